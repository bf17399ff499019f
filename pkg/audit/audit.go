// Package audit emits structured audit events for security-relevant
// actions (token issuance, asset upload/publish, job dispatch). Grounded
// on the teacher's DB-backed audit.Service call shape, but the sink is
// structured logging: spec.md's Non-goals exclude a persistent database,
// so the audit trail lives in the log stream instead of a table.
package audit

import "github.com/sirupsen/logrus"

type Service struct {
	log *logrus.Logger
}

func NewService(log *logrus.Logger) *Service {
	return &Service{log: log}
}

// Log records actor performing action against target, with optional
// structured metadata.
func (s *Service) Log(actor, action, target string, metadata map[string]interface{}) {
	fields := logrus.Fields{
		"audit":  true,
		"actor":  actor,
		"action": action,
	}
	if target != "" {
		fields["target"] = target
	}
	for k, v := range metadata {
		fields[k] = v
	}
	s.log.WithFields(fields).Info("audit")
}
