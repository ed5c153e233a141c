package integrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/junction/internal/logging"
	"github.com/zulandar/junction/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrReportNotFound is returned when a session has no stored report.
var ErrReportNotFound = errors.New("integrate: report not found")

// Marker moves a session to integrated once its report is stored.
type Marker interface {
	MarkIntegrated(ctx context.Context, sessionID string) error
}

// Integrator builds and stores reports for finalized sessions.
type Integrator struct {
	db     *gorm.DB
	marker Marker
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewIntegrator creates an Integrator.
func NewIntegrator(db *gorm.DB, marker Marker, opts Options, logger *zap.Logger) (*Integrator, error) {
	if db == nil {
		return nil, fmt.Errorf("integrate: db is required")
	}
	if marker == nil {
		return nil, fmt.Errorf("integrate: marker is required")
	}
	return &Integrator{db: db, marker: marker, opts: opts.withDefaults(), logger: logging.OrNop(logger), now: time.Now}, nil
}

// Integrate builds, stores, and returns the report for a finalized session.
// Calling it again returns the stored report.
func (i *Integrator) Integrate(ctx context.Context, sessionID string) (*Report, error) {
	db := i.db.WithContext(ctx)

	var s models.Session
	if err := db.Where("id = ?", sessionID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("integrate: session %s not found", sessionID)
		}
		return nil, fmt.Errorf("integrate: load session %s: %w", sessionID, err)
	}
	switch s.Status {
	case models.SessionComplete, models.SessionTimedOut:
	case models.SessionIntegrated, models.SessionArchived:
		return Load(ctx, i.db, sessionID)
	default:
		return nil, fmt.Errorf("integrate: session %s is %s, not finalized", sessionID, s.Status)
	}

	var tasks []models.Task
	if err := db.Where("session_id = ?", sessionID).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("integrate: load tasks: %w", err)
	}
	var results []models.Result
	if err := db.Where("session_id = ? AND late = ?", sessionID, false).Find(&results).Error; err != nil {
		return nil, fmt.Errorf("integrate: load results: %w", err)
	}

	rep := Build(Input{SessionID: sessionID, SessionStatus: s.Status, Tasks: tasks, Results: results}, i.opts)
	rep.GeneratedAt = i.now().UTC()

	row, err := toModel(rep)
	if err != nil {
		return nil, err
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return nil, fmt.Errorf("integrate: store report: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Another integrator stored first; theirs is authoritative.
		if rep, err = Load(ctx, i.db, sessionID); err != nil {
			return nil, err
		}
	}

	if err := i.marker.MarkIntegrated(ctx, sessionID); err != nil {
		var cur models.Session
		if lerr := db.Select("status").Where("id = ?", sessionID).First(&cur).Error; lerr != nil ||
			(cur.Status != models.SessionIntegrated && cur.Status != models.SessionArchived) {
			return nil, err
		}
	}
	i.logger.Info("session integrated",
		zap.String("session_id", sessionID),
		zap.String("consensus", rep.ConsensusBucket),
		zap.Int("conflicts", len(rep.Conflicts)),
		zap.Int("missing_roles", len(rep.MissingRoles)),
		zap.Bool("degraded", rep.Degraded))
	return rep, nil
}

// Load reads a stored report.
func Load(ctx context.Context, db *gorm.DB, sessionID string) (*Report, error) {
	var row models.IntegrationReport
	if err := db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrReportNotFound, sessionID)
		}
		return nil, fmt.Errorf("integrate: load report %s: %w", sessionID, err)
	}
	return fromModel(&row)
}

// stored is the JSON body kept in IntegrationReport.Summaries. It carries
// the fields that have no column of their own.
type stored struct {
	SessionStatus string        `json:"session_status"`
	Summaries     []RoleSummary `json:"summaries"`
}

func toModel(r *Report) (*models.IntegrationReport, error) {
	summaries, err := json.Marshal(stored{SessionStatus: r.SessionStatus, Summaries: r.Summaries})
	if err != nil {
		return nil, fmt.Errorf("integrate: encode summaries: %w", err)
	}
	sims, err := json.Marshal(r.Similarities)
	if err != nil {
		return nil, fmt.Errorf("integrate: encode similarities: %w", err)
	}
	conflicts, err := json.Marshal(r.Conflicts)
	if err != nil {
		return nil, fmt.Errorf("integrate: encode conflicts: %w", err)
	}
	missing, err := json.Marshal(r.MissingRoles)
	if err != nil {
		return nil, fmt.Errorf("integrate: encode missing roles: %w", err)
	}
	return &models.IntegrationReport{
		SessionID:       r.SessionID,
		ConsensusBucket: r.ConsensusBucket,
		MeanSimilarity:  r.MeanSimilarity,
		Summaries:       string(summaries),
		Similarities:    string(sims),
		Conflicts:       string(conflicts),
		MissingRoles:    string(missing),
		Synthesis:       r.Synthesis,
		Degraded:        r.Degraded,
		DegradedReason:  r.DegradedReason,
		Fingerprint:     r.Fingerprint,
		GeneratedAt:     r.GeneratedAt,
	}, nil
}

func fromModel(m *models.IntegrationReport) (*Report, error) {
	r := &Report{
		SessionID:       m.SessionID,
		ConsensusBucket: m.ConsensusBucket,
		MeanSimilarity:  m.MeanSimilarity,
		Synthesis:       m.Synthesis,
		Degraded:        m.Degraded,
		DegradedReason:  m.DegradedReason,
		Fingerprint:     m.Fingerprint,
		GeneratedAt:     m.GeneratedAt.UTC(),
	}
	var st stored
	if err := json.Unmarshal([]byte(m.Summaries), &st); err != nil {
		return nil, fmt.Errorf("integrate: decode summaries: %w", err)
	}
	r.SessionStatus, r.Summaries = st.SessionStatus, st.Summaries
	if err := json.Unmarshal([]byte(m.Similarities), &r.Similarities); err != nil {
		return nil, fmt.Errorf("integrate: decode similarities: %w", err)
	}
	if err := json.Unmarshal([]byte(m.Conflicts), &r.Conflicts); err != nil {
		return nil, fmt.Errorf("integrate: decode conflicts: %w", err)
	}
	if err := json.Unmarshal([]byte(m.MissingRoles), &r.MissingRoles); err != nil {
		return nil, fmt.Errorf("integrate: decode missing roles: %w", err)
	}
	return r, nil
}
