package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	nc "github.com/dataparency-dev/natsclient"
	"go.uber.org/zap"
)

// NATSStore is a Store backed by the natsclient domain/entity/aspect
// model (spec.md §5 names this the "single persistence sink"). It
// generalizes the teacher's storeData/retrieveData helpers
// (engine.go): every AESP key "domain:entity" (or a bare key, treated
// as its own entity under a fixed "aesp" domain) is addressed by first
// establishing — or lazily registering — an RDID for the entity, then
// issuing Post/Get with that RDID.
//
// Because natsclient has no native prefix-listing primitive, NATSStore
// keeps a small index entity ("aesp:__index__") recording every key it
// has ever written, and filters that index client-side for Keys calls.
type NATSStore struct {
	server string
	token  nc.APIToken

	mu    sync.Mutex
	index map[string]bool
	log   *zap.Logger
}

const indexEntity = "aesp:__index__"

// NewNATSStore wraps an already-authenticated natsclient session.
// server is the NATS server topic (as returned by nc.ConnectAPI); token
// is the session token from nc.LoginAPI.
func NewNATSStore(server string, token nc.APIToken, log *zap.Logger) *NATSStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &NATSStore{server: server, token: token, index: make(map[string]bool), log: log}
}

func (s *NATSStore) rdidFor(entity string) (string, error) {
	rdid, status := nc.RelationRetrieve(s.server, entity, s.token)
	if status == http.StatusOK && rdid != "" {
		return rdid, nil
	}
	rdid, status = nc.RelationRegister(s.server, entity, s.token, "write")
	if status != http.StatusOK {
		return "", fmt.Errorf("storage: establish RDID for %q failed (status %d)", entity, status)
	}
	return rdid, nil
}

func (s *NATSStore) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	rdid, err := s.rdidFor(key)
	if err != nil {
		return false, err
	}
	dflags := make(map[string]interface{})
	nc.SetDomain(dflags, "aesp")
	nc.SetEntity(dflags, key)
	nc.SetRDID(dflags, rdid)
	nc.SetAspect(dflags, "value")
	nc.SetTag(dflags, "data")
	nc.SetTimestamp(dflags, "latest")

	rsp := nc.Get(s.server, dflags, s.token)
	if rsp.Header.Status == http.StatusNotFound {
		return false, nil
	}
	if rsp.Header.Status != http.StatusOK {
		return false, fmt.Errorf("storage: get %q failed: %s (status %d)", key, rsp.Header.ErrorStr, rsp.Header.Status)
	}
	if len(rsp.Response) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(rsp.Response, out); err != nil {
		return false, fmt.Errorf("storage: unmarshal %q: %w", key, err)
	}
	return true, nil
}

func (s *NATSStore) Set(ctx context.Context, key string, value interface{}) error {
	rdid, err := s.rdidFor(key)
	if err != nil {
		return err
	}
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: marshal %q: %w", key, err)
	}

	dflags := make(map[string]interface{})
	nc.SetDomain(dflags, "aesp")
	nc.SetEntity(dflags, key)
	nc.SetRDID(dflags, rdid)
	nc.SetAspect(dflags, "value")

	rsp := nc.Post(s.server, body, dflags, s.token)
	if rsp.Header.Status != http.StatusOK {
		return fmt.Errorf("storage: set %q failed: %s (status %d)", key, rsp.Header.ErrorStr, rsp.Header.Status)
	}
	s.recordIndex(key)
	return nil
}

func (s *NATSStore) Delete(ctx context.Context, key string) error {
	_, status := nc.RelationRemove(s.server, key, s.token)
	if status != http.StatusOK && status != http.StatusNotFound {
		return fmt.Errorf("storage: delete %q failed (status %d)", key, status)
	}
	s.mu.Lock()
	delete(s.index, key)
	s.mu.Unlock()
	s.flushIndex()
	return nil
}

func (s *NATSStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.loadIndex()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.index))
	for k := range s.index {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *NATSStore) recordIndex(key string) {
	s.mu.Lock()
	if s.index[key] {
		s.mu.Unlock()
		return
	}
	s.index[key] = true
	s.mu.Unlock()
	s.flushIndex()
}

func (s *NATSStore) flushIndex() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.index))
	for k := range s.index {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Strings(keys)

	rdid, err := s.rdidFor(indexEntity)
	if err != nil {
		s.log.Warn("storage: flush index RDID failed", zap.Error(err))
		return
	}
	body, err := json.Marshal(keys)
	if err != nil {
		s.log.Warn("storage: flush index marshal failed", zap.Error(err))
		return
	}
	dflags := make(map[string]interface{})
	nc.SetDomain(dflags, "aesp")
	nc.SetEntity(dflags, indexEntity)
	nc.SetRDID(dflags, rdid)
	nc.SetAspect(dflags, "value")
	rsp := nc.Post(s.server, body, dflags, s.token)
	if rsp.Header.Status != http.StatusOK {
		s.log.Warn("storage: flush index post failed", zap.String("error", rsp.Header.ErrorStr))
	}
}

// loadIndex refreshes the in-memory index from the backend once, lazily.
func (s *NATSStore) loadIndex() {
	s.mu.Lock()
	alreadyLoaded := len(s.index) > 0
	s.mu.Unlock()
	if alreadyLoaded {
		return
	}
	rdid, err := s.rdidFor(indexEntity)
	if err != nil {
		return
	}
	dflags := make(map[string]interface{})
	nc.SetDomain(dflags, "aesp")
	nc.SetEntity(dflags, indexEntity)
	nc.SetRDID(dflags, rdid)
	nc.SetAspect(dflags, "value")
	nc.SetTag(dflags, "data")
	nc.SetTimestamp(dflags, "latest")
	rsp := nc.Get(s.server, dflags, s.token)
	if rsp.Header.Status != http.StatusOK || len(rsp.Response) == 0 {
		return
	}
	var keys []string
	if err := json.Unmarshal(rsp.Response, &keys); err != nil {
		return
	}
	s.mu.Lock()
	for _, k := range keys {
		s.index[k] = true
	}
	s.mu.Unlock()
}
