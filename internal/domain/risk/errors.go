package risk

import "errors"

// ErrThresholdRange indicates a configured threshold falls outside [-1, 1].
var ErrThresholdRange = errors.New("threshold must be between -1 and 1")
