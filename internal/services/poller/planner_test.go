package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type PlannerSuite struct {
	suite.Suite
}

func (s *PlannerSuite) TestBackoffDelay() {
	p := NewPlanner(PlannerConfig{})
	s.Equal(1*time.Minute, p.BackoffDelay(0))
	s.Equal(1*time.Minute, p.BackoffDelay(1))
	s.Equal(5*time.Minute, p.BackoffDelay(2))
	s.Equal(15*time.Minute, p.BackoffDelay(3))
	s.Equal(30*time.Minute, p.BackoffDelay(4))
	s.Equal(30*time.Minute, p.BackoffDelay(100))
}

func (s *PlannerSuite) TestNextDelay() {
	p := NewPlanner(PlannerConfig{PollInterval: 30 * time.Second})
	s.Equal(30*time.Second, p.NextDelay(true))
	s.Equal(15*time.Minute, p.NextDelay(false))
}

func (s *PlannerSuite) TestIdleNeverShorterThanPoll() {
	p := NewPlanner(PlannerConfig{PollInterval: time.Hour, IdleInterval: time.Minute})
	s.Equal(time.Hour, p.NextDelay(false))
	s.Equal(time.Hour, p.Config().IdleInterval)
}

func TestPlannerSuite(t *testing.T) {
	suite.Run(t, new(PlannerSuite))
}
