package visio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
)

// View is the query-side projection of a visio. Link tokens stay on the
// write side; the view only exposes when a participant's link expires.
type View struct {
	ID               string            `json:"id"`
	Status           Status            `json:"status"`
	Configuration    Configuration     `json:"configuration"`
	Participants     []ParticipantView `json:"participants"`
	ParticipantCount int               `json:"participantCount"`
	ConnectedCount   int               `json:"connectedCount"`
	HostIDs          []string          `json:"hostIds,omitempty"`
	Version          int               `json:"version"`
	CreatedAt        time.Time         `json:"createdAt"`
	StartedAt        time.Time         `json:"startedAt,omitempty"`
	EndedAt          time.Time         `json:"endedAt,omitempty"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

type ParticipantView struct {
	ID            string            `json:"id"`
	Type          ParticipantType   `json:"type"`
	Status        ParticipantStatus `json:"status"`
	IsHost        bool              `json:"isHost"`
	Preferences   Preferences       `json:"preferences"`
	LinkExpiresAt time.Time         `json:"linkExpiresAt,omitempty"`
}

func NewView(v *Visio) View {
	s := v.State()
	view := View{
		ID:               s.ID,
		Status:           s.Status,
		Configuration:    s.Configuration,
		ParticipantCount: v.ParticipantCount(),
		ConnectedCount:   v.ConnectedCount(),
		Version:          v.Version(),
		CreatedAt:        s.CreatedAt,
		StartedAt:        s.StartedAt,
		EndedAt:          s.EndedAt,
		UpdatedAt:        s.UpdatedAt,
	}
	for _, p := range v.Participants() {
		pv := ParticipantView{ID: p.ID, Type: p.Type, Status: p.Status, IsHost: p.IsHost, Preferences: p.Preferences}
		if p.Link != nil {
			pv.LinkExpiresAt = p.Link.ExpiresAt
		}
		if p.IsHost {
			view.HostIDs = append(view.HostIDs, p.ID)
		}
		view.Participants = append(view.Participants, pv)
	}
	return view
}

type Stats struct {
	TotalVisios                 int64   `json:"totalVisios"`
	ActiveVisios                int64   `json:"activeVisios"`
	TotalParticipants           int64   `json:"totalParticipants"`
	AverageParticipantsPerVisio float64 `json:"averageParticipantsPerVisio"`
}

type ReadStore interface {
	Upsert(ctx context.Context, v View) error
	FindByID(ctx context.Context, id string) (View, error)
	FindByStatus(ctx context.Context, status Status) ([]View, error)
	FindByHost(ctx context.Context, participantID string) ([]View, error)
	Statistics(ctx context.Context) (Stats, error)
}

const (
	keyAll    = "visio:ids"
	keyCounts = "visio:participant_counts"
)

func viewKey(id string) string            { return "visio:view:" + id }
func statusKey(s Status) string           { return "visio:status:" + string(s) }
func hostKey(participantID string) string { return "visio:host:" + participantID }

// RedisReadStore keeps views as JSON strings with set indexes per status
// and host.
type RedisReadStore struct {
	client *redis.Client
}

func NewRedisReadStore(client *redis.Client) *RedisReadStore {
	return &RedisReadStore{client: client}
}

// Upsert replaces the stored view unless it already holds a newer version.
func (s *RedisReadStore) Upsert(ctx context.Context, v View) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal visio view %s: %w", v.ID, err)
	}

	key := viewKey(v.ID)
	txf := func(tx *redis.Tx) error {
		prev, err := s.get(ctx, tx, v.ID)
		if err != nil && !errors.Is(err, ErrVisioNotFound) {
			return err
		}
		if err == nil && prev.Version > v.Version {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prev.ID != "" {
				pipe.SRem(ctx, statusKey(prev.Status), v.ID)
				for _, h := range prev.HostIDs {
					pipe.SRem(ctx, hostKey(h), v.ID)
				}
			}
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, keyAll, v.ID)
			pipe.SAdd(ctx, statusKey(v.Status), v.ID)
			for _, h := range v.HostIDs {
				pipe.SAdd(ctx, hostKey(h), v.ID)
			}
			pipe.HSet(ctx, keyCounts, v.ID, v.ParticipantCount)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("upsert visio view %s: %w", v.ID, err)
	}
	return nil
}

func (s *RedisReadStore) FindByID(ctx context.Context, id string) (View, error) {
	return s.get(ctx, s.client, id)
}

func (s *RedisReadStore) FindByStatus(ctx context.Context, status Status) ([]View, error) {
	return s.fromSet(ctx, statusKey(status))
}

func (s *RedisReadStore) FindByHost(ctx context.Context, participantID string) ([]View, error) {
	return s.fromSet(ctx, hostKey(participantID))
}

func (s *RedisReadStore) Statistics(ctx context.Context) (Stats, error) {
	var st Stats
	total, err := s.client.SCard(ctx, keyAll).Result()
	if err != nil {
		return st, fmt.Errorf("count visios: %w", err)
	}
	active, err := s.client.SCard(ctx, statusKey(StatusActive)).Result()
	if err != nil {
		return st, fmt.Errorf("count active visios: %w", err)
	}
	counts, err := s.client.HVals(ctx, keyCounts).Result()
	if err != nil {
		return st, fmt.Errorf("load participant counts: %w", err)
	}

	st.TotalVisios = total
	st.ActiveVisios = active
	for _, c := range counts {
		n, err := strconv.ParseInt(c, 10, 64)
		if err != nil {
			continue
		}
		st.TotalParticipants += n
	}
	if total > 0 {
		st.AverageParticipantsPerVisio = float64(st.TotalParticipants) / float64(total)
	}
	return st, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisReadStore) get(ctx context.Context, c stringGetter, id string) (View, error) {
	raw, err := c.Get(ctx, viewKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return View{}, es.NotFound("visio.view", fmt.Errorf("%w: %s", ErrVisioNotFound, id))
		}
		return View{}, fmt.Errorf("get visio view %s: %w", id, err)
	}
	var v View
	if err := json.Unmarshal(raw, &v); err != nil {
		return View{}, fmt.Errorf("decode visio view %s: %w", id, err)
	}
	return v, nil
}

func (s *RedisReadStore) fromSet(ctx context.Context, set string) ([]View, error) {
	ids, err := s.client.SMembers(ctx, set).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", set, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = viewKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load views from %s: %w", set, err)
	}

	out := make([]View, 0, len(vals))
	for i, val := range vals {
		str, ok := val.(string)
		if !ok {
			continue
		}
		var v View
		if err := json.Unmarshal([]byte(str), &v); err != nil {
			return nil, fmt.Errorf("decode visio view %s: %w", ids[i], err)
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
