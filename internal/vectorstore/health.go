package vectorstore

import "context"

// HealthChecker is implemented by stores backed by a remote service.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// CheckHealth reports the health of s. Embedded stores are always healthy.
func CheckHealth(ctx context.Context, s Store) error {
	if hc, ok := s.(HealthChecker); ok {
		return hc.Healthy(ctx)
	}
	return nil
}
