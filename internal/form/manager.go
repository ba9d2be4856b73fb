// Package form holds the server side of each mounted upload form: the
// selected file, its preview reference and the response text.
package form

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	"github.com/predictform/server/internal/metrics"
	"github.com/predictform/server/internal/models"
	"github.com/predictform/server/internal/predict"
	"github.com/predictform/server/internal/storage"
)

// DefaultMaxForms limits concurrently mounted forms.
const DefaultMaxForms = 100

// DefaultPreviewPath is the URL pattern for preview references.
const DefaultPreviewPath = "/api/forms/%s/preview/%s"

var (
	ErrFormNotFound    = errors.New("form not found")
	ErrPreviewNotFound = errors.New("preview not found")
	ErrTooManyForms    = errors.New("too many mounted forms")

	// ErrNoFileSelected is recovered locally by Submit; its message becomes
	// the response text.
	ErrNoFileSelected = errors.New(models.ResponseNoFile)
)

// Predictor sends one upload to the prediction API.
type Predictor interface {
	Predict(ctx context.Context, up predict.Upload) (*predict.Result, error)
}

// Config wires dependencies into a Manager.
type Config struct {
	Store     storage.Store
	Predictor Predictor
	MaxForms  int
	// PreviewPath formats a preview URL from a form ID and a reference.
	PreviewPath string
}

// Manager handles mounted upload forms.
type Manager struct {
	mu          sync.RWMutex
	forms       map[string]*instance
	store       storage.Store
	predictor   Predictor
	maxForms    int
	previewPath string
}

type instance struct {
	state        *models.FormState
	selected     *models.SelectedFile
	preview      *models.PreviewRef
	issued       uint64
	cancel       context.CancelFunc
	lastAccessed time.Time
	subscribers  map[chan models.FormState]struct{}
}

// NewManager creates a form manager.
func NewManager(cfg Config) *Manager {
	maxForms := cfg.MaxForms
	if maxForms <= 0 {
		maxForms = DefaultMaxForms
	}
	previewPath := cfg.PreviewPath
	if previewPath == "" {
		previewPath = DefaultPreviewPath
	}
	return &Manager{
		forms:       make(map[string]*instance),
		store:       cfg.Store,
		predictor:   cfg.Predictor,
		maxForms:    maxForms,
		previewPath: previewPath,
	}
}

// Mount creates a new form in idle state.
func (m *Manager) Mount() (*models.FormState, error) {
	m.mu.Lock()
	if len(m.forms) >= m.maxForms {
		if !m.evictLocked() {
			m.mu.Unlock()
			return nil, ErrTooManyForms
		}
	}

	id := uuid.New().String()
	inst := &instance{
		state:        models.NewFormState(id),
		lastAccessed: time.Now(),
		subscribers:  make(map[chan models.FormState]struct{}),
	}
	m.forms[id] = inst
	metrics.MountedForms.Set(float64(len(m.forms)))
	snap := inst.snapshot()
	m.mu.Unlock()

	log.Infof("[Form %s] mounted", id[:8])
	return &snap, nil
}

// evictLocked unmounts the least recently used form that has neither an
// in-flight submission nor a live subscriber. A subscribed form is still open
// in a page, which has no way to mount it again. Returns false when every
// form is in use.
func (m *Manager) evictLocked() bool {
	var oldestID string
	var oldest time.Time
	for id, inst := range m.forms {
		if inst.cancel != nil || len(inst.subscribers) > 0 {
			continue
		}
		if oldestID == "" || inst.lastAccessed.Before(oldest) {
			oldestID, oldest = id, inst.lastAccessed
		}
	}
	if oldestID == "" {
		return false
	}
	fileID := m.dropLocked(oldestID)
	m.deleteFile(fileID)
	log.Infof("[Form %s] evicted to make room", oldestID[:8])
	return true
}

// State returns the current snapshot and marks the form as in use.
func (m *Manager) State(id string) (*models.FormState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.forms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFormNotFound, id)
	}
	inst.lastAccessed = time.Now()
	snap := inst.snapshot()
	return &snap, nil
}

// Touch marks a form as in use. Returns false for unknown forms.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.forms[id]
	if !ok {
		return false
	}
	inst.lastAccessed = time.Now()
	return true
}

// Count reports the number of mounted forms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.forms)
}

// SelectFile stores r as the form's selected file and issues a fresh preview
// reference. The previous file and reference are revoked.
func (m *Manager) SelectFile(id, name, contentType string, r io.Reader) (*models.FormState, error) {
	if !m.exists(id) {
		return nil, fmt.Errorf("%w: %s", ErrFormNotFound, id)
	}

	info, err := m.store.Save(name, contentType, r)
	if err != nil {
		return nil, fmt.Errorf("saving selected file: %w", err)
	}

	m.mu.Lock()
	inst, ok := m.forms[id]
	if !ok {
		m.mu.Unlock()
		m.deleteFile(info.ID)
		return nil, fmt.Errorf("%w: %s", ErrFormNotFound, id)
	}

	var previous string
	if inst.selected != nil {
		previous = inst.selected.ID
	}

	ref := uuid.New().String()
	inst.selected = &models.SelectedFile{FileInfo: *info, SuppliedType: contentType}
	inst.preview = &models.PreviewRef{
		Ref:    ref,
		FileID: info.ID,
		URL:    fmt.Sprintf(m.previewPath, id, ref),
	}
	if inst.state.ResponseText == models.ResponseNoFile {
		inst.state.ResponseText = models.ResponsePlaceholder
		inst.state.Status = models.FormStatusIdle
	}
	inst.lastAccessed = time.Now()
	snap := inst.snapshot()
	inst.notify(snap)
	m.mu.Unlock()

	if previous != "" {
		m.deleteFile(previous)
	}
	log.Infof("[Form %s] selected %q (%d bytes, %s)", id[:8], info.Name, info.Size, info.ContentType)
	return &snap, nil
}

// Submit sends the selected file to the prediction API and records the
// outcome as the form's response text. Without a selected file, the
// response text becomes the no-file message and no request is made.
//
// Each call supersedes earlier in-flight calls on the same form: their
// requests are cancelled and their results are discarded. The outbound call
// is not bound to ctx cancellation.
func (m *Manager) Submit(ctx context.Context, id string) (*models.FormState, error) {
	m.mu.Lock()
	inst, ok := m.forms[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrFormNotFound, id)
	}
	inst.lastAccessed = time.Now()
	inst.issued++
	seq := inst.issued
	if inst.cancel != nil {
		inst.cancel()
		inst.cancel = nil
	}

	if inst.selected == nil {
		inst.state.ResponseText = ErrNoFileSelected.Error()
		inst.state.ResponseShape = models.ShapeNone
		inst.state.Status = models.FormStatusFailure
		inst.state.Sequence = seq
		snap := inst.snapshot()
		inst.notify(snap)
		m.mu.Unlock()
		metrics.ObserveSubmission(metrics.OutcomeNoFile, 0)
		return &snap, nil
	}

	selected := *inst.selected
	body, _, openErr := m.store.Open(selected.ID)

	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	inst.cancel = cancel
	inst.state.Status = models.FormStatusSubmitting
	inst.state.Sequence = seq
	inst.notify(inst.snapshot())
	m.mu.Unlock()

	var result *predict.Result
	started := time.Now()
	err := openErr
	if err == nil {
		result, err = m.predictor.Predict(callCtx, predict.Upload{
			Filename:    selected.Name,
			ContentType: selected.SuppliedType,
			Body:        body,
		})
		body.Close()
	}
	cancel()
	took := time.Since(started)

	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok = m.forms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFormNotFound, id)
	}
	if seq != inst.issued {
		log.Debugf("[Form %s] dropped result of superseded submission #%d", id[:8], seq)
		metrics.ObserveSubmission(metrics.OutcomeSuperseded, took)
		snap := inst.snapshot()
		return &snap, nil
	}

	inst.cancel = nil
	if err != nil {
		inst.state.ResponseText = predict.Describe(err)
		inst.state.ResponseShape = models.ShapeNone
		inst.state.Status = models.FormStatusFailure
		log.Warnf("[Form %s] submission #%d failed: %v", id[:8], seq, err)
		metrics.ObserveSubmission(metrics.OutcomeFailure, took)
	} else {
		inst.state.ResponseText = result.Text
		inst.state.ResponseShape = result.Shape
		inst.state.Status = models.FormStatusSuccess
		metrics.ObserveSubmission(metrics.OutcomeSuccess, took)
	}
	snap := inst.snapshot()
	inst.notify(snap)
	return &snap, nil
}

// Preview opens the bytes behind a live preview reference. Superseded or
// unmounted references return ErrPreviewNotFound.
func (m *Manager) Preview(id, ref string) (io.ReadCloser, *models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.forms[id]
	if !ok || inst.preview == nil || inst.preview.Ref != ref {
		return nil, nil, fmt.Errorf("%w: %s", ErrPreviewNotFound, ref)
	}
	rc, info, err := m.store.Open(inst.preview.FileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrPreviewNotFound, ref)
		}
		return nil, nil, err
	}
	return rc, info, nil
}

// Unmount revokes the preview, deletes the selected file, cancels any
// in-flight submission and forgets the form.
func (m *Manager) Unmount(id string) error {
	m.mu.Lock()
	if _, ok := m.forms[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFormNotFound, id)
	}
	fileID := m.dropLocked(id)
	m.mu.Unlock()

	m.deleteFile(fileID)
	log.Infof("[Form %s] unmounted", id[:8])
	return nil
}

// CleanupIdle unmounts forms not accessed within maxAge and retries file
// deletions that failed earlier. Forms with an in-flight submission are
// kept. Returns the number removed.
func (m *Manager) CleanupIdle(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var ids []string
	for id, inst := range m.forms {
		if inst.cancel != nil {
			continue
		}
		if inst.lastAccessed.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	var files []string
	for _, id := range ids {
		if fileID := m.dropLocked(id); fileID != "" {
			files = append(files, fileID)
		}
	}
	m.mu.Unlock()

	for _, fileID := range files {
		m.deleteFile(fileID)
	}
	if err := m.store.Sweep(); err != nil {
		log.Warnf("retrying file deletions: %v", err)
	}
	for _, id := range ids {
		log.Infof("[Form %s] cleaned up after %s idle", id[:8], maxAge)
	}
	return len(ids)
}

// Subscribe returns a channel that receives the latest snapshot after every
// state change. The channel is closed on unmount or when the returned
// cancel func is called.
func (m *Manager) Subscribe(id string) (<-chan models.FormState, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.forms[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrFormNotFound, id)
	}
	ch := make(chan models.FormState, 1)
	inst.subscribers[ch] = struct{}{}
	ch <- inst.snapshot()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if cur, ok := m.forms[id]; ok && cur == inst {
				if _, live := inst.subscribers[ch]; live {
					delete(inst.subscribers, ch)
					close(ch)
				}
			}
		})
	}
	return ch, cancel, nil
}

func (m *Manager) exists(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.forms[id]
	return ok
}

// dropLocked removes a form and returns the ID of its stored file, if any.
func (m *Manager) dropLocked(id string) string {
	inst := m.forms[id]
	delete(m.forms, id)
	metrics.MountedForms.Set(float64(len(m.forms)))

	if inst.cancel != nil {
		inst.cancel()
		inst.cancel = nil
	}
	for ch := range inst.subscribers {
		close(ch)
	}
	inst.subscribers = nil
	inst.preview = nil
	if inst.selected == nil {
		return ""
	}
	fileID := inst.selected.ID
	inst.selected = nil
	return fileID
}

func (m *Manager) deleteFile(fileID string) {
	if fileID == "" {
		return
	}
	if err := m.store.Delete(fileID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warnf("deleting file %s: %v", fileID, err)
	}
}

func (inst *instance) snapshot() models.FormState {
	snap := *inst.state
	if inst.selected != nil {
		info := inst.selected.FileInfo
		snap.File = &info
	}
	if inst.preview != nil {
		preview := *inst.preview
		snap.Preview = &preview
	}
	return snap
}

// notify hands snap to every subscriber, replacing an unread older snapshot.
func (inst *instance) notify(snap models.FormState) {
	for ch := range inst.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
