// Package conversation turns classified inbound messages into outbound
// replies. The dispatcher holds no cross-message state: everything it needs
// lives in the session store and its collaborators.
package conversation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/appayureze-cloud/astra/internal/adherence"
	"github.com/appayureze-cloud/astra/internal/auth"
	"github.com/appayureze-cloud/astra/internal/documents"
	"github.com/appayureze-cloud/astra/internal/intent"
	"github.com/appayureze-cloud/astra/internal/models"
	"github.com/appayureze-cloud/astra/internal/notify"
	"github.com/appayureze-cloud/astra/internal/safety"
	"github.com/appayureze-cloud/astra/internal/store"
	"github.com/appayureze-cloud/astra/internal/util"
)

// Generator produces an assistant answer for a wellness question.
type Generator interface {
	Generate(ctx context.Context, query string) (string, error)
}

// OrderTracker looks up order status for a phone. Optional; when nil the
// dispatcher answers with the deployment notice.
type OrderTracker interface {
	TrackOrder(ctx context.Context, phone string) (string, error)
}

// Dispatcher routes intents to handlers and renders replies.
type Dispatcher struct {
	store    store.Store
	verifier *auth.Verifier
	storage  documents.Storage
	tracker  *adherence.Tracker
	gen      Generator
	mailer   notify.Mailer
	orders   OrderTracker
	fetch    func(ctx context.Context, url string) ([]byte, error)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithOrderTracker wires the optional order status collaborator.
func WithOrderTracker(o OrderTracker) DispatcherOption {
	return func(d *Dispatcher) { d.orders = o }
}

// WithMediaFetcher overrides how media URLs are downloaded (tests).
func WithMediaFetcher(fn func(ctx context.Context, url string) ([]byte, error)) DispatcherOption {
	return func(d *Dispatcher) { d.fetch = fn }
}

// NewDispatcher creates a Dispatcher over the given collaborators.
func NewDispatcher(st store.Store, v *auth.Verifier, storage documents.Storage, tracker *adherence.Tracker, gen Generator, mailer notify.Mailer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:    st,
		verifier: v,
		storage:  storage,
		tracker:  tracker,
		gen:      gen,
		mailer:   mailer,
		fetch:    fetchMediaURL,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func fetchMediaURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}

// HandleMessage classifies one inbound message and dispatches it.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg models.IncomingMessage) []models.OutboundMessage {
	callbackID := ""
	if msg.Interactive != nil {
		callbackID = msg.Interactive.ID
	}
	it := intent.Classify(msg.Body, msg.Media != nil, callbackID)
	return d.Handle(ctx, msg, it)
}

// Handle routes a classified intent. It always returns something to say;
// collaborator failures are downgraded to a generic retry message and the
// detail stays in the logs.
func (d *Dispatcher) Handle(ctx context.Context, msg models.IncomingMessage, it intent.Intent) []models.OutboundMessage {
	sender := msg.From
	slog.Debug("Dispatcher handling intent", "kind", it.Kind, "phoneHash", util.HashPhone(sender))

	switch it.Kind {
	case intent.KindButton:
		return d.handleCallback(ctx, msg, it.CallbackID)
	case intent.KindGreeting:
		return d.handleGreeting(ctx, sender)
	case intent.KindEmailLogin:
		return d.handleEmailLogin(ctx, sender, it.Email)
	case intent.KindOTP:
		return d.handleOTP(ctx, sender, it.Code)
	case intent.KindLogout:
		return d.handleLogout(ctx, sender)
	case intent.KindListDocuments:
		return d.handleListDocuments(ctx, sender)
	case intent.KindGetDocument:
		return d.handleGetDocument(ctx, sender, it.DocIndex)
	case intent.KindDocumentUpload:
		return d.handleUpload(ctx, msg)
	case intent.KindTrackOrder:
		return d.handleTrackOrder(ctx, sender)
	case intent.KindMedicineResponse:
		return d.handleMedicine(ctx, sender, it.Action)
	case intent.KindStopReminders:
		return d.handleStop(ctx, sender)
	case intent.KindAIQuery:
		return d.handleAIQuery(ctx, sender, it.Query)
	default:
		return []models.OutboundMessage{text(sender, unknownText)}
	}
}

// handleCallback maps button and list reply ids onto the same handlers the
// text vocabulary reaches.
func (d *Dispatcher) handleCallback(ctx context.Context, msg models.IncomingMessage, id string) []models.OutboundMessage {
	sender := msg.From
	switch id {
	case callbackViewDocuments:
		return d.handleListDocuments(ctx, sender)
	case callbackAskAI:
		return []models.OutboundMessage{text(sender, askAIPromptText)}
	case callbackTrackOrder:
		return d.handleTrackOrder(ctx, sender)
	case callbackTaken:
		return d.handleMedicine(ctx, sender, models.MedicineTaken)
	case callbackSkip:
		return d.handleMedicine(ctx, sender, models.MedicineSkipped)
	case callbackLater:
		return d.handleMedicine(ctx, sender, models.MedicineLater)
	}
	if strings.HasPrefix(id, docCallbackPrefix) {
		if n, err := strconv.Atoi(strings.TrimPrefix(id, docCallbackPrefix)); err == nil && n >= 1 {
			return d.handleGetDocument(ctx, sender, n)
		}
	}
	slog.Warn("Dispatcher unknown callback id", "id", id)
	return []models.OutboundMessage{text(sender, unknownText)}
}

func (d *Dispatcher) handleGreeting(ctx context.Context, sender string) []models.OutboundMessage {
	verified, err := d.store.IsVerified(ctx, sender)
	if err != nil {
		slog.Error("Dispatcher greeting verification check failed", "error", err)
		return []models.OutboundMessage{text(sender, genericErrorText)}
	}
	body := welcomeNewText
	if verified {
		body = welcomeBackText
	}
	return []models.OutboundMessage{{To: sender, Body: body, Buttons: quickActionButtons()}}
}

func (d *Dispatcher) handleEmailLogin(ctx context.Context, sender, email string) []models.OutboundMessage {
	res, err := d.verifier.Issue(ctx, sender, email)
	if err != nil {
		slog.Error("Dispatcher email login failed", "error", err, "phoneHash", util.HashPhone(sender))
		return []models.OutboundMessage{text(sender, genericErrorText)}
	}
	switch res.Outcome {
	case auth.OutcomeSent:
		if err := d.mailer.SendCode(ctx, email, res.Code); err != nil {
			slog.Error("Dispatcher code delivery failed", "error", err, "phoneHash", util.HashPhone(sender))
			return []models.OutboundMessage{text(sender, genericErrorText)}
		}
		return []models.OutboundMessage{otpSentMessage(sender, email, res.ExpiresAt)}
	case auth.OutcomeAlreadyVerified:
		return []models.OutboundMessage{text(sender, alreadyVerifiedText)}
	case auth.OutcomeCooldown:
		secs := int(res.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		return []models.OutboundMessage{text(sender, fmt.Sprintf(otpCooldownTemplate, secs))}
	case auth.OutcomeLocked:
		return []models.OutboundMessage{lockedMessage(sender, res.RetryAfter)}
	default:
		slog.Error("Dispatcher unexpected issue outcome", "outcome", res.Outcome)
		return []models.OutboundMessage{text(sender, genericErrorText)}
	}
}

func (d *Dispatcher) handleOTP(ctx context.Context, sender, code string) []models.OutboundMessage {
	res, err := d.verifier.Verify(ctx, sender, code)
	if err != nil {
		slog.Error("Dispatcher otp verification failed", "error", err, "phoneHash", util.HashPhone(sender))
		return []models.OutboundMessage{text(sender, genericErrorText)}
	}
	switch res.Outcome {
	case auth.OutcomeVerified:
		return []models.OutboundMessage{{To: sender, Body: verifiedText, Buttons: quickActionButtons()}}
	case auth.OutcomeAlreadyVerified:
		return []models.OutboundMessage{text(sender, alreadyVerifiedText)}
	case auth.OutcomeInvalid:
		return []models.OutboundMessage{text(sender, fmt.Sprintf(otpInvalidTemplate, res.AttemptsLeft))}
	case auth.OutcomeExpired:
		return []models.OutboundMessage{text(sender, otpExpiredText)}
	case auth.OutcomeLocked:
		return []models.OutboundMessage{lockedMessage(sender, res.RetryAfter)}
	case auth.OutcomeNoSession:
		return []models.OutboundMessage{text(sender, otpNoSessionText)}
	default:
		slog.Error("Dispatcher unexpected verify outcome", "outcome", res.Outcome)
		return []models.OutboundMessage{text(sender, genericErrorText)}
	}
}

func (d *Dispatcher) handleLogout(ctx context.Context, sender string) []models.OutboundMessage {
	if err := d.store.ClearAuth(ctx, sender); err != nil && err != models.ErrSessionNotFound {
		slog.Error("Dispatcher logout failed", "error", err, "phoneHash", util.HashPhone(sender))
		return []models.OutboundMessage{text(sender, genericErrorText)}
	}
	return []models.OutboundMessage{text(sender, loggedOutText)}
}

// requireVerified gates document features. When the check fails the
// collaborators are never touched.
func (d *Dispatcher) requireVerified(ctx context.Context, sender string) (*models.Session, []models.OutboundMessage) {
	verified, err := d.store.IsVerified(ctx, sender)
	if err != nil {
		slog.Error("Dispatcher verification check failed", "error", err)
		return nil, []models.OutboundMessage{text(sender, genericErrorText)}
	}
	if !verified {
		return nil, []models.OutboundMessage{text(sender, verifyPromptText)}
	}
	sess, err := d.store.GetSession(ctx, sender)
	if err != nil || sess == nil {
		slog.Error("Dispatcher session load failed after verification check", "error", err)
		return nil, []models.OutboundMessage{text(sender, genericErrorText)}
	}
	return sess, nil
}

func (d *Dispatcher) handleListDocuments(ctx context.Context, sender string) []models.OutboundMessage {
	sess, deny := d.requireVerified(ctx, sender)
	if deny != nil {
		return deny
	}
	docs, err := d.storage.ListDocuments(ctx, sess.IdentityRef)
	if err != nil {
		slog.Error("Dispatcher document list failed", "error", err, "phoneHash", sess.PhoneHash)
		return []models.OutboundMessage{text(sender, genericErrorText)}
	}
	if len(docs) == 0 {
		return []models.OutboundMessage{text(sender, noDocumentsText)}
	}
	rows := make([]models.ListRow, 0, len(docs))
	for i, doc := range docs {
		if i >= models.MaxListRows {
			break
		}
		rows = append(rows, models.ListRow{
			ID:          fmt.Sprintf("%s%d", docCallbackPrefix, i+1),
			Title:       doc.Name,
			Description: doc.UploadedAt.Format("2 Jan 2006"),
		})
	}
	return []models.OutboundMessage{{
		To:       sender,
		Body:     fmt.Sprintf("You have %d document(s). Pick one to get a download link.", len(docs)),
		ListText: "Your Documents",
		Sections: []models.ListSection{{Title: "Documents", Rows: rows}},
	}}
}

func (d *Dispatcher) handleGetDocument(ctx context.Context, sender string, index int) []models.OutboundMessage {
	sess, deny := d.requireVerified(ctx, sender)
	if deny != nil {
		return deny
	}
	docs, err := d.storage.ListDocuments(ctx, sess.IdentityRef)
	if err != nil {
		slog.Error("Dispatcher document list failed", "error", err, "phoneHash", sess.PhoneHash)
		return []models.OutboundMessage{text(sender, genericErrorText)}
	}
	if index < 1 || index > len(docs) {
		return []models.OutboundMessage{text(sender, fmt.Sprintf("There's no document %d. You have %d document(s); say \"view docs\" to see them.", index, len(docs)))}
	}
	doc := docs[index-1]
	url, err := d.storage.GetDownloadURL(ctx, sess.IdentityRef, doc.ID)
	if err != nil {
		slog.Error("Dispatcher download url failed", "error", err, "phoneHash", sess.PhoneHash, "doc", doc.ID)
		return []models.OutboundMessage{text(sender, genericErrorText)}
	}
	return []models.OutboundMessage{text(sender, fmt.Sprintf("Here's %q (link valid for 24 hours):\n%s", doc.Name, url))}
}

func (d *Dispatcher) handleUpload(ctx context.Context, msg models.IncomingMessage) []models.OutboundMessage {
	sender := msg.From
	sess, deny := d.requireVerified(ctx, sender)
	if deny != nil {
		return deny
	}
	if msg.Media == nil {
		return []models.OutboundMessage{text(sender, unknownText)}
	}

	if err := d.store.UpdateStage(ctx, sender, models.StageUploadProcessing, ""); err != nil {
		slog.Error("Dispatcher upload stage update failed", "error", err, "phoneHash", sess.PhoneHash)
		return []models.OutboundMessage{text(sender, genericErrorText)}
	}

	data := msg.Media.Data
	if len(data) == 0 && msg.Media.URL != "" {
		fetched, err := d.fetch(ctx, msg.Media.URL)
		if err != nil {
			slog.Error("Dispatcher media fetch failed", "error", err, "phoneHash", sess.PhoneHash)
			d.revertUploadStage(ctx, sender, sess.PhoneHash)
			return []models.OutboundMessage{text(sender, genericErrorText)}
		}
		data = fetched
	}
	if len(data) == 0 {
		d.revertUploadStage(ctx, sender, sess.PhoneHash)
		return []models.OutboundMessage{text(sender, genericErrorText)}
	}

	name := msg.Media.Filename
	if name == "" {
		name = fmt.Sprintf("upload-%d", time.Now().Unix())
	}
	doc, err := d.storage.SaveDocument(ctx, sess.IdentityRef, documents.Upload{
		Name:     name,
		MimeType: msg.Media.MimeType,
		Data:     data,
	})
	if err != nil {
		slog.Error("Dispatcher document save failed", "error", err, "phoneHash", sess.PhoneHash)
		d.revertUploadStage(ctx, sender, sess.PhoneHash)
		return []models.OutboundMessage{text(sender, genericErrorText)}
	}

	if err := d.store.UpdateStage(ctx, sender, models.StageReady, ""); err != nil {
		slog.Error("Dispatcher ready stage update failed", "error", err, "phoneHash", sess.PhoneHash)
	}
	return []models.OutboundMessage{text(sender, fmt.Sprintf(uploadSavedTemplate, doc.Name))}
}

// revertUploadStage returns a session stuck in upload_processing to
// verified after a failed upload.
func (d *Dispatcher) revertUploadStage(ctx context.Context, sender, phoneHash string) {
	if err := d.store.UpdateStage(ctx, sender, models.StageVerified, ""); err != nil {
		slog.Error("Dispatcher upload stage revert failed", "error", err, "phoneHash", phoneHash)
	}
}

func (d *Dispatcher) handleTrackOrder(ctx context.Context, sender string) []models.OutboundMessage {
	if d.orders == nil {
		return []models.OutboundMessage{text(sender, trackOrderFallbackText)}
	}
	status, err := d.orders.TrackOrder(ctx, sender)
	if err != nil {
		slog.Error("Dispatcher order tracking failed", "error", err, "phoneHash", util.HashPhone(sender))
		return []models.OutboundMessage{text(sender, genericErrorText)}
	}
	return []models.OutboundMessage{text(sender, status)}
}

func (d *Dispatcher) handleMedicine(ctx context.Context, sender string, action models.MedicineAction) []models.OutboundMessage {
	if err := d.tracker.RecordResponse(ctx, sender, action); err != nil {
		slog.Error("Dispatcher medicine response failed", "error", err, "phoneHash", util.HashPhone(sender))
		return []models.OutboundMessage{text(sender, genericErrorText)}
	}
	var body string
	switch action {
	case models.MedicineTaken:
		body = medicineTakenText
	case models.MedicineSkipped:
		body = medicineSkippedText
	default:
		body = medicineLaterText
	}
	return []models.OutboundMessage{text(sender, body)}
}

func (d *Dispatcher) handleStop(ctx context.Context, sender string) []models.OutboundMessage {
	if err := d.tracker.StopReminders(ctx, sender); err != nil {
		slog.Error("Dispatcher stop reminders failed", "error", err, "phoneHash", util.HashPhone(sender))
		return []models.OutboundMessage{text(sender, genericErrorText)}
	}
	return []models.OutboundMessage{text(sender, remindersStoppedText)}
}

func (d *Dispatcher) handleAIQuery(ctx context.Context, sender, query string) []models.OutboundMessage {
	if !safety.ValidateQuery(query) {
		slog.Info("Dispatcher query rejected by safety filter", "phoneHash", util.HashPhone(sender))
		return []models.OutboundMessage{text(sender, safety.QueryRejectedMessage)}
	}
	answer, err := d.gen.Generate(ctx, query)
	if err != nil {
		slog.Error("Dispatcher generation failed", "error", err, "phoneHash", util.HashPhone(sender))
		return []models.OutboundMessage{text(sender, genericErrorText)}
	}
	filtered, replaced := safety.FilterResponse(answer, query)
	if replaced {
		slog.Info("Dispatcher response replaced by safety filter", "phoneHash", util.HashPhone(sender))
	}
	return []models.OutboundMessage{text(sender, filtered)}
}
