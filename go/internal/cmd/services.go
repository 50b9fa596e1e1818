package main

import (
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pointroom/go/internal/dbconfig"
	"github.com/mcdev12/pointroom/go/internal/room/feed"
	"github.com/mcdev12/pointroom/go/internal/room/gateway"
	"github.com/mcdev12/pointroom/go/internal/room/session"
	"github.com/mcdev12/pointroom/go/internal/room/store"
)

type Services struct {
	Repo     *store.Repository
	Sessions *session.Store
	Feed     *feed.Feed
	Gateway  *gateway.Service
}

func setupServices(database *sql.DB, dbCfg dbconfig.Config, natsURL, sessionPath string) (*Services, error) {
	// Wire up dependency injection chain
	// Store layer → feed layer → gateway layer

	clock := clockwork.NewRealClock()

	repo := store.NewRepository(database)

	sessions, err := session.Open(sessionPath, clock)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	feedCfg := feed.DefaultConfig()
	feedCfg.DatabaseURL = dbCfg.DSN()
	feedCfg.NATSURL = natsURL

	fd, err := feed.NewFeed(feedCfg)
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("failed to create change feed: %w", err)
	}

	broadcaster := feed.NewBroadcaster(fd.Conn())

	gw := gateway.NewService(gateway.DefaultConfig(), repo, sessions, fd, broadcaster, clock)

	return &Services{
		Repo:     repo,
		Sessions: sessions,
		Feed:     fd,
		Gateway:  gw,
	}, nil
}

func (s *Services) Close() {
	s.Feed.Close()
	if err := s.Sessions.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close session store")
	}
}
