package modelloader

import (
	"context"
	"errors"
	"sync"
)

// Loader is the contract of an external 3D-model loader: callback-style with
// a completion callback, an optional progress callback and an error
// callback. Implementations may call back synchronously or from their own
// goroutine.
type Loader interface {
	Load(key string, onSuccess func(model any), onProgress func(fraction float64), onError func(err error))
}

// LoaderFunc adapts a plain function to the Loader interface.
type LoaderFunc func(key string, onSuccess func(model any), onProgress func(fraction float64), onError func(err error))

func (f LoaderFunc) Load(key string, onSuccess func(model any), onProgress func(fraction float64), onError func(err error)) {
	f(key, onSuccess, onProgress, onError)
}

type outcome struct {
	model any
	err   error
}

// Await adapts the callback-style loader into a blocking call. The first
// callback to fire wins; progress reports are ignored. Await returns early
// with ctx.Err() if ctx settles first.
func Await(ctx context.Context, loader Loader, key string) (any, error) {
	settled := make(chan outcome, 1)
	once := sync.Once{}

	loader.Load(
		key,
		func(model any) {
			once.Do(func() {
				settled <- outcome{model: model}
			})
		},
		// Loaders may invoke the progress callback unconditionally, so it
		// must always be callable.
		func(fraction float64) {},
		func(err error) {
			if err == nil {
				err = errors.New("loader reported failure without a cause")
			}
			once.Do(func() {
				settled <- outcome{err: err}
			})
		},
	)

	select {
	case result := <-settled:
		return result.model, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
