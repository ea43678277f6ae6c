// Package submission sequences a registration: local validation, proof
// upload, registration write, then resetting the form. One Form belongs to one
// visitor session.
package submission

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ProofDrop/internal/common"
	"github.com/dharsanguruparan/ProofDrop/internal/model"
	"github.com/dharsanguruparan/ProofDrop/internal/validation"
)

// State is where a Form is in the submission lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateUploading  State = "uploading"
	StatePersisting State = "persisting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// FailureReason qualifies StateFailed.
type FailureReason string

const (
	ReasonNone        FailureReason = ""
	ReasonValidation  FailureReason = "validation"
	ReasonUpload      FailureReason = "upload"
	ReasonPersistence FailureReason = "persistence"
)

// Notifications shown after a submit resolves.
const (
	MsgSucceeded = "Données enregistrées avec succès !"
	MsgFailed    = "Échec de l'enregistrement !"
)

// ShakeDuration is how long the page plays the failed-validation cue.
const ShakeDuration = 500 * time.Millisecond

// Uploader hosts a proof image and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, file model.SelectedFile) (string, error)
}

// Recorder appends one registration to the store.
type Recorder interface {
	Record(ctx context.Context, reg *model.Registration) error
}

// Reviewer is told about each registration that reached the store so a human
// can check the payment proof.
type Reviewer interface {
	RequestReview(ctx context.Context, reg model.Registration) error
}

// Outcome is what the page needs to show once a submit resolves.
type Outcome struct {
	State        State
	Reason       FailureReason
	Message      string
	FieldErrors  map[string]string
	Shake        time.Duration
	RedirectURL  string
	Registration *model.Registration
}

// Snapshot is a copy of the visible form state.
type Snapshot struct {
	Name        string
	Expedite    bool
	File        *model.SelectedFile
	Submitting  bool
	State       State
	Reason      FailureReason
	FieldErrors map[string]string
}

// Form owns the fields of one registration form and its in-flight flag.
type Form struct {
	variant     model.Variant
	maxFileSize int64
	uploader    Uploader
	recorder    Recorder
	reviewer    Reviewer
	now         func() time.Time
	log         *zap.Logger

	mu          sync.Mutex
	name        string
	expedite    bool
	file        *model.SelectedFile
	submitting  bool
	state       State
	reason      FailureReason
	fieldErrors map[string]string
}

// Option customizes a Form.
type Option func(*Form)

// WithReviewer hands successful registrations to r.
func WithReviewer(r Reviewer) Option {
	return func(f *Form) { f.reviewer = r }
}

// WithClock replaces time.Now for registration timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *Form) { f.now = now }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Form) { f.log = l }
}

// WithMaxFileSize overrides the validator's size limit.
func WithMaxFileSize(n int64) Option {
	return func(f *Form) { f.maxFileSize = n }
}

// NewForm builds an idle form for the given page variant.
func NewForm(variant model.Variant, uploader Uploader, recorder Recorder, opts ...Option) *Form {
	f := &Form{
		variant:     variant,
		maxFileSize: validation.DefaultMaxFileSize,
		uploader:    uploader,
		recorder:    recorder,
		now:         time.Now,
		log:         zap.NewNop(),
		expedite:    variant.DefaultExpedite,
		state:       StateIdle,
		fieldErrors: map[string]string{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetName updates the full-name field.
func (f *Form) SetName(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setNameLocked(name)
}

func (f *Form) setNameLocked(name string) {
	f.name = name
	if f.variant.FieldErrors && validation.ValidateName(name, f.variant.MinNameLength) == nil {
		delete(f.fieldErrors, common.FieldFullName)
	}
}

// SetExpedite updates the secure24h option.
func (f *Form) SetExpedite(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expedite = v
}

// SelectFile validates file and, when it is accepted, makes it the current
// selection. A rejected file leaves any earlier selection in place.
func (f *Form) SelectFile(file model.SelectedFile) error {
	err := validation.ValidateFile(file.ContentType, file.Size, f.maxFileSize)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectFileLocked(file, err)
	return err
}

// selectFileLocked applies the result of validating file.
func (f *Form) selectFileLocked(file model.SelectedFile, verdict error) {
	if verdict != nil {
		var verr *common.ValidationError
		if f.variant.FieldErrors && errors.As(verdict, &verr) {
			f.fieldErrors[common.FieldFile] = verr.Fields[common.FieldFile]
		}
		return
	}
	f.file = &file
	delete(f.fieldErrors, common.FieldFile)
}

// ClearFile drops the current selection.
func (f *Form) ClearFile() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.file = nil
}

// Submitting reports whether a submit is in flight. The submit control must
// be disabled while it is true.
func (f *Form) Submitting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitting
}

// State returns the current lifecycle state and, for StateFailed, its reason.
func (f *Form) State() (State, FailureReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.reason
}

// Snapshot copies the visible form state.
func (f *Form) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Snapshot{
		Name:        f.name,
		Expedite:    f.expedite,
		Submitting:  f.submitting,
		State:       f.state,
		Reason:      f.reason,
		FieldErrors: copyErrors(f.fieldErrors),
	}
	if f.file != nil {
		file := *f.file
		s.File = &file
	}
	return s
}

// Changes are field edits that arrive together with a submit. Nil fields
// leave the current value alone.
type Changes struct {
	Name     *string
	Expedite *bool
	File     *model.SelectedFile
}

// Submit runs validation, upload and persistence strictly in that order. It
// returns ErrSubmissionInProgress without touching the form when another
// submit has not resolved yet. Every other failure is reported both in the
// Outcome and as the returned error; the form fields survive a failure so the
// visitor can retry, which re-uploads the image.
func (f *Form) Submit(ctx context.Context) (Outcome, error) {
	return f.SubmitChanges(ctx, Changes{})
}

// SubmitChanges applies ch and starts a submit in one step. While another
// submit is in flight ch is discarded and ErrSubmissionInProgress returned. A
// rejected file in ch fails validation without reaching the uploader.
func (f *Form) SubmitChanges(ctx context.Context, ch Changes) (Outcome, error) {
	var fileErr error
	if ch.File != nil {
		fileErr = validation.ValidateFile(ch.File.ContentType, ch.File.Size, f.maxFileSize)
	}

	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return Outcome{}, common.ErrSubmissionInProgress
	}
	if ch.Name != nil {
		f.setNameLocked(*ch.Name)
	}
	if ch.Expedite != nil {
		f.expedite = *ch.Expedite
	}
	if ch.File != nil {
		f.selectFileLocked(*ch.File, fileErr)
	}
	f.submitting = true
	f.state, f.reason = StateValidating, ReasonNone
	name, expedite := f.name, f.expedite
	var file model.SelectedFile
	hasFile := f.file != nil
	if hasFile {
		file = *f.file
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.submitting = false
		f.mu.Unlock()
	}()

	if fileErr != nil {
		var verr *common.ValidationError
		if !errors.As(fileErr, &verr) {
			verr = common.NewValidationError(common.FieldFile, fileErr.Error())
		}
		return f.fail(ReasonValidation, verr), verr
	}
	if verr := f.validate(name, hasFile); verr != nil {
		return f.fail(ReasonValidation, verr), verr
	}

	f.transition(StateUploading)
	proof, err := f.uploader.Upload(ctx, file)
	if err != nil {
		var uerr *common.UploadError
		if !errors.As(err, &uerr) {
			err = &common.UploadError{Op: "upload", Err: err}
		}
		f.log.Warn("proof upload failed", zap.String("file", file.Name), zap.Error(err))
		return f.fail(ReasonUpload, nil), err
	}

	f.transition(StatePersisting)
	reg := &model.Registration{
		FullName:  name,
		Proof:     proof,
		Secure24h: expedite,
		Timestamp: f.now(),
	}
	if err := f.recorder.Record(ctx, reg); err != nil {
		var perr *common.PersistenceError
		if !errors.As(err, &perr) {
			err = &common.PersistenceError{Op: "record", Err: err}
		}
		f.log.Error("registration write failed, proof left orphaned",
			zap.String("proof", proof), zap.Error(err))
		return f.fail(ReasonPersistence, nil), err
	}

	f.mu.Lock()
	f.name = ""
	f.file = nil
	f.expedite = f.variant.DefaultExpedite
	f.fieldErrors = map[string]string{}
	f.state, f.reason = StateSucceeded, ReasonNone
	f.mu.Unlock()

	f.log.Info("registration recorded",
		zap.String("id", reg.ID),
		zap.Bool("secure24h", reg.Secure24h))
	if f.reviewer != nil {
		if err := f.reviewer.RequestReview(ctx, *reg); err != nil {
			f.log.Warn("review request failed", zap.String("id", reg.ID), zap.Error(err))
		}
	}
	return Outcome{
		State:        StateSucceeded,
		Message:      MsgSucceeded,
		RedirectURL:  f.variant.RedirectURL,
		Registration: reg,
	}, nil
}

// validate checks the snapshot taken at submit time. With field errors off
// the visitor gets one form-level message, as the plain page always did.
func (f *Form) validate(name string, hasFile bool) *common.ValidationError {
	fields := map[string]string{}
	var nerr *common.ValidationError
	if errors.As(validation.ValidateName(name, f.variant.MinNameLength), &nerr) {
		fields[common.FieldFullName] = nerr.Fields[common.FieldFullName]
	}
	if !hasFile {
		fields[common.FieldFile] = validation.MsgMissingFile
	}
	if len(fields) == 0 {
		return nil
	}
	if !f.variant.FieldErrors {
		fields[common.FieldForm] = validation.MsgMissingAll
	}
	return &common.ValidationError{Fields: fields}
}

func (f *Form) transition(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *Form) fail(reason FailureReason, verr *common.ValidationError) Outcome {
	out := Outcome{State: StateFailed, Reason: reason, Message: MsgFailed}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state, f.reason = StateFailed, reason
	if verr != nil {
		out.Message = firstMessage(verr)
		if f.variant.FieldErrors {
			for k, v := range verr.Fields {
				f.fieldErrors[k] = v
			}
			out.FieldErrors = copyErrors(verr.Fields)
		}
		if f.variant.Shake {
			out.Shake = ShakeDuration
		}
	}
	return out
}

func firstMessage(verr *common.ValidationError) string {
	for _, k := range []string{common.FieldForm, common.FieldFullName, common.FieldFile} {
		if msg, ok := verr.Fields[k]; ok {
			return msg
		}
	}
	return validation.MsgMissingAll
}

func copyErrors(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
