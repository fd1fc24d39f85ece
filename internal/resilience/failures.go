package resilience

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/prospect-cli/internal/model"
)

const maxFailureMessage = 500

// NewFailedQuery records a failed lookup so a later batch can re-run it.
func NewFailedQuery(query, strategy string, err error) model.FailedQuery {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if len(msg) > maxFailureMessage {
		msg = msg[:maxFailureMessage]
	}
	return model.FailedQuery{
		ID:        uuid.New().String(),
		Query:     query,
		Strategy:  strategy,
		Error:     msg,
		ErrorKind: string(Classify(err)),
		CreatedAt: time.Now().UTC(),
	}
}
