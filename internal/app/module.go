package app

import (
	"time"

	"github.com/quizforge/billing/internal/app/api/server"
	"github.com/quizforge/billing/internal/app/service/eventlog"
	"github.com/quizforge/billing/internal/app/service/planchange"
	"github.com/quizforge/billing/internal/app/service/profile"
	"github.com/quizforge/billing/internal/app/service/snapshot"
	"github.com/quizforge/billing/internal/app/service/webhook"
	"github.com/quizforge/billing/internal/platform/cache"
	"github.com/quizforge/billing/internal/platform/db"
	"github.com/quizforge/billing/internal/platform/stripegw"
	"github.com/quizforge/billing/pkg/config"
	"github.com/quizforge/billing/pkg/logger"

	"go.uber.org/fx"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	cache.Module,
	stripegw.Module,
	profile.Module,
	eventlog.Module,
	snapshot.Module,
	planchange.Module,
	webhook.Module,
	server.Module,
)
