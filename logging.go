package asyncrt

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// NewJSONLogger builds a structured JSON logger suitable for WithLogger,
// writing one event per line to w. It is a convenience over configuring
// logiface directly; any logiface-backed logger works.
func NewJSONLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(w),
			stumpy.WithTimeField(`ts`),
			stumpy.WithLevelField(`level`),
		),
		stumpy.L.WithLevel(level),
	).Logger()
}
