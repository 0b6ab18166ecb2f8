package booking

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"queue-sync/src/clock"
	"queue-sync/src/helpers"
	"queue-sync/src/interfaces"
	"queue-sync/src/logger"
	"queue-sync/src/metrics"
	"queue-sync/src/models"
	"queue-sync/src/store"
	"queue-sync/src/utils"

	"golang.org/x/time/rate"
)

// ErrSessionChanged means the session was cleared or closed while the request
// was in flight; its result was discarded.
var ErrSessionChanged = errors.New("session changed while the request was in flight")

// Options carries the optional collaborators of a Controller.
type Options struct {
	Cache   interfaces.IPreviewCache
	Journal interfaces.IReservationJournal
	Metrics *metrics.Metrics
	Clock   clock.Clock
	Limiter *rate.Limiter
}

// NewRefreshLimiter allows perMinute manual refreshes with the given burst.
func NewRefreshLimiter(perMinute, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
}

// -----------------------------------------------------------------------------
// Controller
// -----------------------------------------------------------------------------

// Controller turns the current selection into a reservation. It reads the
// store for preconditions and writes the outcome back with a generation
// guard, so a result that arrives after the session moved on is dropped.
type Controller struct {
	Logger *logger.Logger

	store   *store.QueueStateStore
	api     interfaces.IBookingAPI
	cache   interfaces.IPreviewCache
	journal interfaces.IReservationJournal
	metrics *metrics.Metrics
	clock   clock.Clock
	limiter *rate.Limiter

	submitting atomic.Bool
}

// -----------------------------------------------------------------------------

func NewController(st *store.QueueStateStore, api interfaces.IBookingAPI, opts Options, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Limiter == nil {
		opts.Limiter = NewRefreshLimiter(6, 2)
	}
	return &Controller{
		Logger:  log,
		store:   st,
		api:     api,
		cache:   opts.Cache,
		journal: opts.Journal,
		metrics: opts.Metrics,
		clock:   opts.Clock,
		limiter: opts.Limiter,
	}
}

// -----------------------------------------------------------------------------
// Submit
// -----------------------------------------------------------------------------

// Submit validates the selection against the current options and issues one
// booking write. A conflict (already in queue) is a result, not an error.
// On failure no reservation is stored and the selection is left intact.
func (c *Controller) Submit(ctx context.Context) (*models.MReservation, error) {
	if !c.submitting.CompareAndSwap(false, true) {
		return nil, helpers.ErrSubmitInProgress
	}
	defer c.submitting.Store(false)

	started := time.Now()
	sel, options, gen := c.store.SelectionContext()

	if err := c.checkPreconditions(sel, options); err != nil {
		c.Logger.Info("Booking rejected locally: %v", err)
		c.observe("rejected", started)
		return nil, err
	}

	req := models.MBookingRequest{
		BusinessID: c.store.BusinessID(),
		QueueID:    *sel.QueueID,
		Date:       sel.Date,
		ServiceIDs: sel.ServiceIDs,
	}

	result, err := c.api.Submit(ctx, req)
	if err != nil {
		c.Logger.Warning("Booking for queue %s failed: %v", req.QueueID, err)
		c.observe("failed", started)
		return nil, err
	}

	reservation := c.toReservation(req, result, options)

	if !c.store.SetReservationIfCurrent(gen, reservation) {
		c.Logger.Info("Discarding booking result for queue %s, session changed", req.QueueID)
		c.observe("discarded", started)
		return nil, ErrSessionChanged
	}

	if reservation.Conflict {
		c.observe("conflict", started)
	} else {
		c.observe("confirmed", started)
	}
	c.record(reservation)

	return reservation, nil
}

// -----------------------------------------------------------------------------

func (c *Controller) checkPreconditions(sel models.MSelection, options []models.MQueueOption) error {
	if !sel.Complete() || !sel.HasQueue() {
		return helpers.ErrIncompleteSelection
	}

	past, err := utils.IsPastDate(sel.Date, c.clock.Now(), c.store.Location())
	if err != nil {
		return &helpers.SelectionError{QueueSyncError: helpers.QueueSyncError{
			Message: "selected date is not a valid date",
			Cause:   err,
		}}
	}
	if past {
		return helpers.ErrPastDate
	}

	if !store.Submittable(options, *sel.QueueID) {
		return helpers.ErrQueueUnavailable
	}
	return nil
}

// -----------------------------------------------------------------------------

// toReservation folds the response into a reservation. Position and wait
// always come from the response; for a conflict they describe the booking
// that already exists.
func (c *Controller) toReservation(req models.MBookingRequest, res *models.MBookingResult, options []models.MQueueOption) *models.MReservation {
	r := &models.MReservation{
		BookingID:     res.ID,
		BusinessID:    req.BusinessID,
		QueueID:       res.QueueID,
		QueueName:     res.QueueName,
		Date:          req.Date,
		ServiceIDs:    append([]string(nil), req.ServiceIDs...),
		TokenNumber:   string(res.TokenNumber),
		Position:      res.Position,
		WaitMinutes:   res.WaitMinutes,
		EstimatedTime: res.EstimatedTime,
		Message:       res.Message,
		CreatedAt:     c.clock.Now().UTC(),
	}
	if r.QueueID == "" {
		r.QueueID = req.QueueID
	}
	if r.QueueName == "" {
		if opt := store.FindOption(options, r.QueueID); opt != nil {
			r.QueueName = opt.Name
		}
	}
	if r.EstimatedTime == "" {
		r.EstimatedTime = utils.EstimatedClockTime(c.clock.Now(), r.WaitMinutes, c.store.Location())
	}

	if res.AlreadyInQueue {
		r.Status = models.ReservationConflict
		r.Conflict = true
		if r.Message == "" {
			r.Message = "You are already in this queue"
		}
	} else {
		r.Status = models.ReservationConfirmed
	}
	return r
}

// -----------------------------------------------------------------------------

func (c *Controller) record(r *models.MReservation) {
	if c.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cp := *r
	if err := c.journal.SaveReservation(ctx, &cp); err != nil {
		c.Logger.Error("Failed to journal reservation for queue %s: %v", r.QueueID, err)
	}
}

// -----------------------------------------------------------------------------

// DismissReservation returns the user to the selection step.
func (c *Controller) DismissReservation() {
	c.store.DismissReservation()
}

// -----------------------------------------------------------------------------
// Previews
// -----------------------------------------------------------------------------

// LoadPreview fetches a preview for the current selection, serving it from
// the cache when possible. An incomplete selection yields (nil, nil).
func (c *Controller) LoadPreview(ctx context.Context) (*models.MBookingPreview, error) {
	req, gen, ok := c.previewRequest()
	if !ok {
		return nil, nil
	}

	if c.cache != nil {
		cached, err := c.cache.Get(ctx, req)
		if err != nil {
			c.Logger.Warning("Preview cache read failed: %v", err)
		} else if cached != nil {
			c.observePreview("cache")
			c.store.SetPreviewIfCurrent(gen, cached)
			return cached, nil
		}
	}

	return c.fetchPreview(ctx, req, gen)
}

// -----------------------------------------------------------------------------

// RefreshEstimates is the user's manual "refresh estimates" action. It always
// goes to the network and is rate limited.
func (c *Controller) RefreshEstimates(ctx context.Context) (*models.MBookingPreview, error) {
	req, gen, ok := c.previewRequest()
	if !ok {
		return nil, helpers.ErrIncompleteSelection
	}
	if !c.limiter.Allow() {
		c.observePreview("rate_limited")
		return nil, helpers.ErrRateLimited
	}
	return c.fetchPreview(ctx, req, gen)
}

// -----------------------------------------------------------------------------

func (c *Controller) fetchPreview(ctx context.Context, req models.MPreviewRequest, gen uint64) (*models.MBookingPreview, error) {
	preview, err := c.api.Preview(ctx, req)
	if err != nil {
		c.observePreview("error")
		return nil, err
	}
	c.observePreview("network")

	if c.cache != nil {
		if err := c.cache.Set(ctx, req, preview); err != nil {
			c.Logger.Warning("Preview cache write failed: %v", err)
		}
	}

	if !c.store.SetPreviewIfCurrent(gen, preview) {
		c.Logger.Debug("Preview for %s arrived after the selection changed", req.Date)
	}
	return preview, nil
}

// -----------------------------------------------------------------------------

func (c *Controller) previewRequest() (models.MPreviewRequest, uint64, bool) {
	sel, _, gen := c.store.SelectionContext()
	if !sel.Complete() {
		return models.MPreviewRequest{}, gen, false
	}
	return models.MPreviewRequest{
		BusinessID: c.store.BusinessID(),
		Date:       sel.Date,
		ServiceIDs: sel.ServiceIDs,
	}, gen, true
}

// -----------------------------------------------------------------------------

func (c *Controller) observe(outcome string, started time.Time) {
	if c.metrics != nil {
		c.metrics.ObserveBooking(outcome, started)
	}
}

func (c *Controller) observePreview(source string) {
	if c.metrics != nil {
		c.metrics.PreviewsTotal.WithLabelValues(source).Inc()
	}
}
