package webhook

import (
	"go.uber.org/fx"

	"github.com/quizforge/billing/internal/app/service/eventlog"
)

var Module = fx.Options(
	fx.Provide(func(s *eventlog.Service) EventRecorder { return s }),
	fx.Provide(NewPipeline),
)
