package refresh

import (
	"strconv"

	"go.uber.org/zap"

	"gitlab.com/Refeed/Worker/pkg/errortracking"
)

// Except logs an error that occurred during the run and reports it to the
// error tracker.
func (r *Run) Except(err error, fields ...zap.Field) {
	if err == nil {
		return
	}

	r.Logger().Error("error occurred while executing run",
		append(fields, zap.Error(err))...,
	)

	errortracking.CaptureError(err, map[string]string{
		"feed_id": strconv.FormatUint(uint64(r.Feed.ID), 10),
		"launch":  r.Launch.String(),
	})
}
