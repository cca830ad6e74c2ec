package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andresmejia3/attendo/internal/engine"
	"github.com/andresmejia3/attendo/internal/gallery"
	"github.com/andresmejia3/attendo/internal/imagenorm"
	"github.com/andresmejia3/attendo/internal/logging"
	"github.com/andresmejia3/attendo/internal/outcome"
	"github.com/andresmejia3/attendo/internal/store"
	"github.com/andresmejia3/attendo/internal/types"
	"github.com/andresmejia3/attendo/internal/utils"
)

// Recorder receives successful runs. Implemented by *store.Store.
type Recorder interface {
	RecordAttendance(ctx context.Context, rec store.AttendanceRecord) error
	RecordRegistration(ctx context.Context, reg store.Registration) error
}

type Options struct {
	Normalizer  *imagenorm.Normalizer
	Gallery     *gallery.Store
	Engine      *engine.Client
	Recorder    Recorder // optional
	ProfilesDir string
	// LivenessThreshold applies when a request does not carry its own.
	LivenessThreshold *float64
}

// Runner executes attendance and registration runs one at a time.
type Runner struct {
	mu sync.Mutex

	normalizer  *imagenorm.Normalizer
	gallery     *gallery.Store
	engine      *engine.Client
	recorder    Recorder
	profilesDir string
	threshold   *float64
	logger      *zap.Logger
}

func NewRunner(opts Options, logger *zap.Logger) *Runner {
	return &Runner{
		normalizer:  opts.Normalizer,
		gallery:     opts.Gallery,
		engine:      opts.Engine,
		recorder:    opts.Recorder,
		profilesDir: opts.ProfilesDir,
		threshold:   opts.LivenessThreshold,
		logger:      logger.Named("pipeline"),
	}
}

type AttendRequest struct {
	Image             *types.CapturedImage
	LivenessThreshold *float64
	// Guidance is the overlay's latest status. Empty means no overlay is attached.
	Guidance types.FaceGuidanceStatus
}

type RegisterRequest struct {
	Name  string
	Image *types.CapturedImage
}

// Attend runs capture gating, normalization, gallery preparation, recognition and
// interpretation. Every failure is reported as a Failed outcome.
func (r *Runner) Attend(ctx context.Context, req AttendRequest) outcome.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.newRun("attend")

	if req.Guidance != "" && !req.Guidance.AllowsCapture() {
		return run.fail(types.ErrCaptureGated.WithError(fmt.Errorf("guidance: %s", req.Guidance.Hint())))
	}
	if req.Image == nil {
		return run.fail(types.ErrNoPhotoCaptured)
	}

	run.enter(Normalizing)
	normalized, err := r.normalizer.Normalize(ctx, req.Image.Path)
	if err != nil {
		return run.fail(err)
	}
	defer func() {
		if err := os.Remove(normalized); err != nil && !errors.Is(err, os.ErrNotExist) {
			run.log.Warn("failed to remove normalized image", zap.String("path", normalized), zap.Error(err))
		}
	}()

	run.enter(GalleryReady)
	galleryPath, err := r.gallery.Ready()
	if err != nil {
		return run.fail(err)
	}

	threshold := req.LivenessThreshold
	if threshold == nil {
		threshold = r.threshold
	}

	run.enter(Dispatching)
	res, err := r.engine.Recognize(ctx, run.id, normalized, galleryPath, threshold)
	if err != nil {
		return run.fail(err)
	}

	run.enter(Interpreting)
	o := outcome.Interpret(res.Raw)
	if o.Kind == outcome.Failed {
		return run.fail(o.Err)
	}

	if o.Kind == outcome.Recognized && r.recorder != nil {
		name := o.Name
		if name == "" {
			name = o.Message
		}
		rec := store.AttendanceRecord{
			Name:                 name,
			Emotion:              o.Emotion,
			Message:              o.Message,
			AttendanceTime:       o.AttendanceTime,
			LightThreshold:       o.LightThreshold,
			RecognitionThreshold: o.RecognitionThreshold,
		}
		// the attendance result stands even when the log write fails
		if err := r.recorder.RecordAttendance(ctx, rec); err != nil {
			run.log.Error("failed to record attendance", zap.Error(logging.NewOperationError("record_attendance", run.id, err)))
		}
	}

	run.done(o)
	return o
}

// Register validates the name, stores the normalized capture as the profile image and
// enrolls it into the gallery.
func (r *Runner) Register(ctx context.Context, req RegisterRequest) outcome.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.register(ctx, req)
}

func (r *Runner) register(ctx context.Context, req RegisterRequest) outcome.Outcome {
	run := r.newRun("register")

	run.enter(ValidatingName)
	name, err := types.CleanName(req.Name)
	if err != nil {
		return run.fail(err)
	}
	if req.Image == nil {
		return run.fail(types.ErrNoPhotoCaptured)
	}
	run.log = run.log.With(zap.String("name", name))

	run.enter(Normalizing)
	normalized, err := r.normalizer.Normalize(ctx, req.Image.Path)
	if err != nil {
		return run.fail(err)
	}

	run.enter(SavingProfile)
	profile := types.UserProfile{Name: name, ImagePath: filepath.Join(r.profilesDir, name+".jpg")}
	if err := saveProfile(normalized, profile.ImagePath); err != nil {
		os.Remove(normalized)
		return run.fail(types.ErrNormalization.WithError(err))
	}

	run.enter(GalleryReady)
	galleryPath, err := r.gallery.Ready()
	if err != nil {
		return run.fail(err)
	}

	run.enter(Enrolling)
	res, err := r.engine.Enroll(ctx, run.id, profile.ImagePath, galleryPath, name)
	if err != nil {
		return run.fail(err)
	}

	run.enter(Interpreting)
	o := outcome.InterpretEnrollment(res.Raw)
	if o.Kind == outcome.Failed {
		return run.fail(o.Err)
	}
	if o.Name == "" {
		o.Name = name
	}
	if o.Legacy {
		run.log.Warn("enrollment judged from message text", zap.String("message", o.Message))
	}

	if o.Kind == outcome.Enrolled && r.recorder != nil {
		reg := store.Registration{Name: name, ProfilePath: profile.ImagePath, Message: o.Message}
		if err := r.recorder.RecordRegistration(ctx, reg); err != nil {
			run.log.Error("failed to record registration", zap.Error(logging.NewOperationError("record_registration", run.id, err)))
		}
	}

	run.done(o)
	return o
}

// DirEntry is the result of enrolling one file of a directory.
type DirEntry struct {
	Name    string
	Path    string
	Outcome outcome.Outcome
}

// ProgressFunc is called after each file of a directory enrollment.
type ProgressFunc func(done, total int, entry DirEntry)

// RegisterDir enrolls every image in dir under the name given by its file name.
// Files are processed in name order; a cancelled context stops before the next file.
func (r *Runner) RegisterDir(ctx context.Context, dir string, progress ProgressFunc) ([]DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && utils.IsImageFile(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	r.mu.Lock()
	defer r.mu.Unlock()

	results := make([]DirEntry, 0, len(paths))
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		entry := DirEntry{Name: utils.NameFromFile(path), Path: path}
		img, err := imagenorm.Capture(path)
		if err != nil {
			entry.Outcome = outcome.Fail(types.ErrNoPhotoCaptured.WithError(err))
		} else {
			entry.Outcome = r.register(ctx, RegisterRequest{Name: entry.Name, Image: img})
		}

		results = append(results, entry)
		if progress != nil {
			progress(i+1, len(paths), entry)
		}
	}
	return results, nil
}

// saveProfile moves the normalized image into place, replacing an earlier profile.
func saveProfile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create profiles dir: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("save profile image: %w", err)
	}
	return nil
}

func (r *Runner) newRun(operation string) *run {
	id := uuid.NewString()
	return &run{
		id:    id,
		state: Idle,
		log:   logging.WithOperation(r.logger, operation, id),
	}
}
