package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DeviceError ties a pipeline failure to the device it ran against.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// ForEachDevice runs fn for every device, at most limit at a time (limit <=
// 0 means no bound). Pipelines for different devices are independent: a
// failure on one device does not cancel the others. The returned error
// joins one *DeviceError per failed device, in the order devices were
// given.
func ForEachDevice(ctx context.Context, devices []string, limit int, fn func(ctx context.Context, device string) error) error {
	var (
		mu   sync.Mutex
		errs = make(map[string]error)
		g    errgroup.Group
	)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, device := range devices {
		g.Go(func() error {
			if err := fn(ctx, device); err != nil {
				mu.Lock()
				errs[device] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	var joined []error
	for _, device := range devices {
		if err, ok := errs[device]; ok {
			joined = append(joined, &DeviceError{Device: device, Err: err})
			delete(errs, device)
		}
	}
	return errors.Join(joined...)
}
