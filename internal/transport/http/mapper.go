package http

import (
	"time"

	"github.com/vovakirdan/relaychat/internal/core"
	"github.com/vovakirdan/relaychat/internal/store"
)

const timeLayout = time.RFC3339

func activeSessionFromCore(s core.Session) ActiveSessionResponse {
	channels := s.Channels
	if channels == nil {
		channels = []string{}
	}
	return ActiveSessionResponse{
		ID:           string(s.ID),
		RemoteAddr:   s.RemoteAddr,
		Nickname:     s.Nickname,
		State:        s.State().String(),
		Channels:     channels,
		ConnectedAt:  s.ConnectedAt.UTC().Format(timeLayout),
		LastActivity: s.LastActivity.UTC().Format(timeLayout),
	}
}

func sessionFromRecord(rec store.SessionRecord) SessionResponse {
	resp := SessionResponse{
		ID:          rec.ID,
		RemoteAddr:  rec.RemoteAddr,
		Transport:   rec.Transport,
		Nickname:    rec.Nickname,
		ConnectedAt: rec.ConnectedAt.UTC().Format(timeLayout),
		Reason:      rec.Reason,
	}
	if rec.DisconnectedAt != nil {
		at := rec.DisconnectedAt.UTC().Format(timeLayout)
		resp.DisconnectedAt = &at
	}
	return resp
}
