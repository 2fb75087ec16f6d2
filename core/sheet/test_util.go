package sheet

import (
	"time"

	"github.com/trezcool/sheets/core"
)

// NewServiceMock returns a Service whose clock is now, for tests.
func NewServiceMock(repo Repository, roster Roster, logger core.Logger, conf core.SheetConfig, now func() time.Time) *Service {
	translator := core.NewTranslator()
	svc := NewService(repo, roster, logger, conf, core.NewValidator(translator), translator)
	svc.now = now
	return svc
}
