package scheduler

import (
	"time"

	"github.com/campuschat/internal/logger"
	"github.com/campuschat/internal/metrics"
	"github.com/campuschat/internal/middleware"
	"github.com/campuschat/internal/ws"
)

type StatsSource interface {
	Stats() []ws.RoomStat
	ConnCount() int
}

// RoomStats обновляет per-room метрики и пишет сводку в лог.
// backlog — длина очереди архива, может быть nil.
func RoomStats(src StatsSource, m *metrics.Metrics, backlog func() int) func() {
	return func() {
		var online, typing, messages int
		for _, st := range src.Stats() {
			m.RoomStats(st.Room, st.Members, st.Messages)
			online += st.Members
			typing += st.Typing
			messages += st.Messages
		}
		pending := 0
		if backlog != nil {
			pending = backlog()
		}
		logger.Infof("stats: conns=%d online=%d typing=%d messages=%d archive_pending=%d log_dropped=%d",
			src.ConnCount(), online, typing, messages, pending, logger.Dropped())
	}
}

// SweepLimiters забывает HTTP-лимитеры клиентов, не приходивших дольше ttl.
func SweepLimiters(p *middleware.LimiterPool, ttl time.Duration) func() {
	return func() {
		if n := p.Sweep(ttl); n > 0 {
			logger.Debugf("ratelimit: swept %d idle clients, %d left", n, p.Len())
		}
	}
}
