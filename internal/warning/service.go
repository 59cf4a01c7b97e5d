// Package warning keeps operator-visible warnings raised by the listener
package warning

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// MaxWarnings is the maximum number of warnings to store
	MaxWarnings = 1000
)

// Warning categories raised by the listener
const (
	CategoryWorker  = "WORKER"
	CategoryHandler = "HANDLER"
	CategoryQueue   = "QUEUE"
)

// Severities
const (
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// Warning represents an operator-visible condition in the listener
type Warning struct {
	ID           string    `json:"id"`
	Category     string    `json:"category"`
	Severity     string    `json:"severity"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	Acknowledged bool      `json:"acknowledged"`
}

// Service defines the warning service interface
type Service interface {
	// AddWarning adds a new warning
	AddWarning(category, severity, message, source string)

	// GetAllWarnings returns all warnings, newest first
	GetAllWarnings() []*Warning

	// GetUnacknowledgedWarnings returns all unacknowledged warnings, newest first
	GetUnacknowledgedWarnings() []*Warning

	// AcknowledgeWarning marks a warning as acknowledged
	AcknowledgeWarning(warningID string) bool

	// ClearAllWarnings removes all warnings
	ClearAllWarnings()
}

// InMemoryService is an in-memory implementation of the warning service
type InMemoryService struct {
	mu       sync.RWMutex
	warnings map[string]*Warning
}

// NewInMemoryService creates a new in-memory warning service
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{
		warnings: make(map[string]*Warning),
	}
}

// AddWarning adds a new warning, evicting the oldest one when full
func (s *InMemoryService) AddWarning(category, severity, message, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.warnings) >= MaxWarnings {
		var oldestID string
		var oldestTime time.Time
		for id, w := range s.warnings {
			if oldestID == "" || w.Timestamp.Before(oldestTime) {
				oldestID = id
				oldestTime = w.Timestamp
			}
		}
		if oldestID != "" {
			delete(s.warnings, oldestID)
		}
	}

	w := &Warning{
		ID:        uuid.New().String(),
		Category:  category,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now(),
		Source:    source,
	}
	s.warnings[w.ID] = w

	log.Info().
		Str("severity", severity).
		Str("category", category).
		Str("source", source).
		Str("message", message).
		Msg("Warning added")
}

// GetAllWarnings returns all warnings sorted by timestamp (newest first)
func (s *InMemoryService) GetAllWarnings() []*Warning {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Warning, 0, len(s.warnings))
	for _, w := range s.warnings {
		result = append(result, w)
	}
	sortNewestFirst(result)
	return result
}

// GetUnacknowledgedWarnings returns all unacknowledged warnings
func (s *InMemoryService) GetUnacknowledgedWarnings() []*Warning {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Warning
	for _, w := range s.warnings {
		if !w.Acknowledged {
			result = append(result, w)
		}
	}
	sortNewestFirst(result)
	return result
}

// AcknowledgeWarning marks a warning as acknowledged
func (s *InMemoryService) AcknowledgeWarning(warningID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.warnings[warningID]
	if !ok {
		return false
	}

	updated := *existing
	updated.Acknowledged = true
	s.warnings[warningID] = &updated

	log.Info().Str("warningId", warningID).Msg("Warning acknowledged")
	return true
}

// ClearAllWarnings removes all warnings
func (s *InMemoryService) ClearAllWarnings() {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.warnings)
	s.warnings = make(map[string]*Warning)
	log.Info().Int("count", count).Msg("Cleared all warnings")
}

func sortNewestFirst(ws []*Warning) {
	sort.Slice(ws, func(i, j int) bool {
		return ws[i].Timestamp.After(ws[j].Timestamp)
	})
}
