package payment

import "time"

// RetryConfig — параметры экспоненциальной задержки повторов.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig: 1s, 2s, 4s ... но не больше 5 минут, 8 попыток.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   8,
		InitialDelay:  time.Second,
		MaxDelay:      5 * time.Minute,
		BackoffFactor: 2.0,
	}
}

// Delay возвращает задержку перед попыткой номер attempt+1 (attempt считается с 1).
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}

	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * factor)
		if c.MaxDelay > 0 && delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}
