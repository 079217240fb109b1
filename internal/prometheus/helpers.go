package prometheus

import (
	"time"
)

type ObserveFunc func() time.Duration
