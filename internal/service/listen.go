package service

import (
	"water_monitor/internal/feed"
	"water_monitor/internal/logger"
	"water_monitor/internal/remote"
)

// listenSource turns a store listener into a feed source. decode runs on the
// store's delivery goroutine, so it is the single writer for whatever it
// touches.
func listenSource[T any](store remote.Store, path string, q remote.Query, decode func(remote.Snapshot) T) feed.Source[T] {
	return func(emit func(T), fail func(error)) (func(), error) {
		reg, err := store.Listen(path, q, func(ev remote.Event) {
			if ev.Err != nil {
				fail(ev.Err)
				return
			}
			emit(decode(ev.Snapshot))
		})
		if err != nil {
			return nil, err
		}
		return reg.Remove, nil
	}
}

func newFeed[T any](name string, src feed.Source[T], buffer int, log *logger.Logger) *feed.Feed[T] {
	opts := []feed.Option{feed.WithBuffer(buffer)}
	if log != nil {
		opts = append(opts, feed.WithLogger(log))
	}
	return feed.New(name, src, opts...)
}
