package market

import (
	"go.uber.org/zap"
)

// journal records compensations for collaborator effects applied during one
// operation. rollback runs them newest first.
type journal struct {
	logger *zap.Logger
	undo   []undoStep
}

type undoStep struct {
	name string
	fn   func() error
}

func newJournal(logger *zap.Logger) *journal {
	return &journal{logger: logger}
}

func (j *journal) record(name string, fn func() error) {
	j.undo = append(j.undo, undoStep{name: name, fn: fn})
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		step := j.undo[i]
		if err := step.fn(); err != nil {
			j.logger.Error("Compensation failed, collaborator state is inconsistent",
				zap.String("step", step.name),
				zap.Error(err))
		}
	}
	j.undo = nil
}
