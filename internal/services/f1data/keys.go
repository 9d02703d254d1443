package f1data

import (
	"fmt"
	"time"

	"github.com/BearBump/PitWall/internal/broker/messages"
	"github.com/BearBump/PitWall/internal/models"
)

// Key layout:
//
//	f1:meetings:y{year}
//	f1:sessions:m{meeting}:t{type}
//	f1:session:{session|all}:{dataset}:...
const (
	meetingsPrefix = "f1:meetings:"
	sessionsPrefix = "f1:sessions:"
	sessionPrefix  = "f1:session:"
)

func sessionKey(sk int, dataset string) string {
	if sk == 0 {
		return sessionPrefix + "all:" + dataset + ":"
	}
	return fmt.Sprintf("%s%d:%s:", sessionPrefix, sk, dataset)
}

func sampleKey(dataset string, q models.SampleQuery) string {
	return sessionKey(q.SessionKey, dataset) + fmt.Sprintf("d%d:f%s:t%s:l%d",
		q.DriverNumber, keyTime(q.From), keyTime(q.To), q.Limit)
}

func keyTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func invalidationPrefixes(msg messages.IngestCompleted) []string {
	switch msg.Dataset {
	case models.DatasetMeetings:
		return []string{meetingsPrefix}
	case models.DatasetSessions:
		return []string{sessionsPrefix}
	}
	if len(msg.Sessions) == 0 {
		return []string{sessionPrefix}
	}
	out := []string{sessionKey(0, msg.Dataset)}
	for _, ref := range msg.Sessions {
		out = append(out, sessionKey(ref.SessionKey, msg.Dataset))
	}
	return out
}
