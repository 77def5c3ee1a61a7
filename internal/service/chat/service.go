// Package chat implements the conversation orchestrator and its
// supporting pieces: the turn assembler, the request builder and the
// streaming event bus.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"parley/internal/domain"
	chatModels "parley/internal/domain/models/chat"
	chatRepo "parley/internal/domain/repositories/chat"
	domainchat "parley/internal/domain/services/chat"
	"parley/internal/service/chat/history"
	"parley/internal/service/chat/pairbuffer"
	"parley/internal/service/chat/stream"
	"parley/internal/service/chat/tools"
	"parley/internal/timer"
)

// Options configures the orchestrator.
type Options struct {
	Model       string
	System      []chatModels.SystemMessage
	UseThinking bool

	ToolUseEnabled bool

	UseCache      bool
	CacheTools    bool
	CacheSystem   bool
	CacheMessages bool

	KeepAliveInterval time.Duration
	PairTimeout       time.Duration
}

// SendOptions control one user send.
type SendOptions struct {
	// Display requests UI rendering of the turn. Keep-alive traffic runs
	// with display disabled.
	Display bool

	// Persist writes the turn to the message store.
	Persist bool
}

// Service is the conversation orchestrator: single owner of the history,
// the tool-pair buffer and the keep-alive timer. One request is in flight
// at a time; concurrent sends queue behind the in-flight stream.
type Service struct {
	opts Options

	client   *stream.Client
	builder  *RequestBuilder
	buffer   *pairbuffer.Buffer
	registry *tools.Registry
	gate     *tools.PermissionGate
	store    chatRepo.MessageStore // nil disables persistence
	bus      *Bus
	logger   *slog.Logger

	keepAlive     *timer.Timer
	keepAliveOnce sync.Once

	// sendMu serializes the send protocol end to end.
	sendMu sync.Mutex

	// histMu guards the history list; held only for list access, never
	// across a suspension point.
	histMu  sync.Mutex
	history []chatModels.Message

	cancelMu     sync.Mutex
	cancelStream context.CancelFunc
}

// NewService wires the orchestrator.
func NewService(
	client *stream.Client,
	builder *RequestBuilder,
	buffer *pairbuffer.Buffer,
	registry *tools.Registry,
	gate *tools.PermissionGate,
	store chatRepo.MessageStore,
	bus *Bus,
	logger *slog.Logger,
	opts Options,
) *Service {
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = 4 * time.Minute
	}
	if opts.PairTimeout <= 0 {
		opts.PairTimeout = pairbuffer.DefaultTimeout
	}

	s := &Service{
		opts:     opts,
		client:   client,
		builder:  builder,
		buffer:   buffer,
		registry: registry,
		gate:     gate,
		store:    store,
		bus:      bus,
		logger:   logger,
	}

	s.keepAlive = timer.New(timer.Hooks{
		OnCompleted: func() {
			go func() {
				if err := s.SendKeepAlive(context.Background()); err != nil {
					s.logger.Warn("keep-alive send failed", "error", err)
				}
			}()
		},
		OnError: func(err error) {
			s.logger.Warn("keep-alive timer error", "error", err)
		},
	})

	return s
}

// Events exposes the streaming event bus.
func (s *Service) Events() <-chan chatModels.Event {
	return s.bus.Events()
}

// History returns a snapshot of the current history.
func (s *Service) History() []chatModels.Message {
	s.histMu.Lock()
	defer s.histMu.Unlock()

	snapshot := make([]chatModels.Message, len(s.history))
	copy(snapshot, s.history)
	return snapshot
}

// Close disposes the keep-alive timer.
func (s *Service) Close() {
	s.keepAlive.Dispose()
}

// LoadHistoryOptions bound a startup history load.
type LoadHistoryOptions struct {
	MaxCount      int
	TruncateChars int
	IncludeTools  bool
}

// LoadHistory loads persisted messages, optionally strips tool blocks, and
// installs the normalized result as the working history. Runs once at
// startup; the normalizer never fails.
func (s *Service) LoadHistory(ctx context.Context, opts LoadHistoryOptions) error {
	if s.store == nil {
		return nil
	}

	msgs, err := s.store.LoadRecent(ctx, chatRepo.LoadOptions{
		Limit:         opts.MaxCount,
		TruncateChars: opts.TruncateChars,
	})
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	if !opts.IncludeTools {
		msgs = stripToolBlocks(msgs)
	}

	normalized := history.Normalize(msgs, s.logger)

	s.histMu.Lock()
	s.history = normalized
	s.histMu.Unlock()

	s.logger.Info("history loaded", "persisted", len(msgs), "normalized", len(normalized))
	return nil
}

// SendUser is the main entry point: one user turn through the full send
// protocol. Serializes behind any in-flight stream.
func (s *Service) SendUser(ctx context.Context, text string, opts SendOptions) error {
	if err := validation.Validate(text, validation.Required); err != nil {
		return fmt.Errorf("%w: text: %v", domain.ErrValidation, err)
	}

	s.ensureKeepAlive()
	s.gate.ResetChain()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	// Settle anything the buffer already matched, and drop expired pairs.
	s.settleBufferLocked(ctx)

	// Tell the model about still-running tools.
	if names := s.buffer.PendingToolNames(); len(names) > 0 {
		text = fmt.Sprintf("[NOTE: Tool(s) '%s' are still processing.]\n\n%s",
			strings.Join(names, ", "), text)
	}

	return s.sendMessageLocked(ctx, chatModels.NewUserText(text), opts)
}

// SendKeepAlive issues the cache-refresh ping with display and persistence
// disabled.
func (s *Service) SendKeepAlive(ctx context.Context) error {
	s.bus.Publish(chatModels.Event{Kind: chatModels.EventDebug, Content: "keep-alive ping"})
	return s.SendUser(ctx, chatModels.KeepAlivePrompt, SendOptions{Display: false, Persist: false})
}

// RequestStop cooperatively cancels the in-flight stream. The assembler
// still emits a completed turn so split/buffer logic runs.
func (s *Service) RequestStop() {
	s.cancelMu.Lock()
	cancel := s.cancelStream
	s.cancelMu.Unlock()

	s.bus.Publish(chatModels.Event{Kind: chatModels.EventStopRequested})
	if cancel != nil {
		cancel()
	}
}

// IngestToolResults is called by tool runners with finished executions.
// Each result is buffered; matched pairs are committed and their results
// submitted through the normal send path. Pairs that match on arrival go
// first, in the order of the outcomes; pairs returned by Flush follow, in
// enqueue order.
func (s *Service) IngestToolResults(ctx context.Context, outcomes []domainchat.ToolOutcome) error {
	var ready []pairbuffer.Pair

	for _, outcome := range outcomes {
		msg := toolResultMessage(outcome)
		if pair := s.buffer.BufferResult(outcome.ToolUseID, msg); pair != nil {
			ready = append(ready, *pair)
		}
	}

	pairs, expired := s.buffer.Flush()
	ready = append(ready, pairs...)
	s.publishExpired(expired)

	for _, pair := range ready {
		s.sendMu.Lock()
		err := s.deliverPairLocked(ctx, pair)
		s.sendMu.Unlock()
		if err != nil {
			return err
		}
	}

	return nil
}

// ensureKeepAlive starts the keep-alive timer on the first user send.
func (s *Service) ensureKeepAlive() {
	s.keepAliveOnce.Do(func() {
		if err := s.keepAlive.SetInterval(s.opts.KeepAliveInterval, true); err != nil {
			s.logger.Warn("keep-alive configure failed", "error", err)
			return
		}
		if err := s.keepAlive.Start(); err != nil {
			s.logger.Warn("keep-alive start failed", "error", err)
		}
	})
}

// settleBufferLocked flushes the buffer, delivering matched pairs and
// logging expired ones. Callers hold sendMu.
func (s *Service) settleBufferLocked(ctx context.Context) {
	pairs, expired := s.buffer.Flush()
	s.publishExpired(expired)

	for _, pair := range pairs {
		if err := s.deliverPairLocked(ctx, pair); err != nil {
			s.logger.Warn("deferred pair delivery failed",
				"tool_use_id", pair.ToolUseID,
				"error", err,
			)
		}
	}
}

func (s *Service) publishExpired(expired []pairbuffer.Expired) {
	for _, e := range expired {
		s.bus.Publish(chatModels.Event{
			Kind:    chatModels.EventWarning,
			Content: fmt.Sprintf("tool pair %s expired after %s", e.ToolUseID, e.Age),
		})
	}
}

// deliverPairLocked commits the buffered tool_use to history, then sends
// the buffered tool_result through the normal send path. The ordering
// guarantees the model never sees a result before its call.
func (s *Service) deliverPairLocked(ctx context.Context, pair pairbuffer.Pair) error {
	s.appendHistory(pair.Use, true)
	return s.sendMessageLocked(ctx, pair.Result, SendOptions{Display: true, Persist: true})
}

// sendMessageLocked runs the request cycle for one outgoing user message:
// commit, build, stream, assemble, split. Callers hold sendMu.
func (s *Service) sendMessageLocked(ctx context.Context, userMsg chatModels.Message, opts SendOptions) error {
	s.resetKeepAlive()

	persist := opts.Persist && !userMsg.IsKeepAlivePing()
	s.appendHistory(userMsg, persist)

	req, err := s.buildRequest()
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.cancelMu.Lock()
	s.cancelStream = cancel
	s.cancelMu.Unlock()
	defer func() {
		s.cancelMu.Lock()
		s.cancelStream = nil
		s.cancelMu.Unlock()
	}()

	s.bus.Publish(chatModels.Event{Kind: chatModels.EventStatus, Content: "request started"})

	body, err := s.client.Stream(streamCtx, req)
	if err != nil {
		s.bus.Publish(chatModels.Event{
			Kind:    chatModels.EventError,
			Tag:     "transport",
			Content: err.Error(),
		})
		return err
	}
	defer body.Close()

	assembler := NewAssembler(s.bus.Publish, s.logger)
	turn, runErr := assembler.Run(streamCtx, stream.NewDecoder(body))

	s.resetKeepAlive()

	// Protocol and server errors keep already-assembled content; the turn
	// ends cleanly either way.
	if runErr != nil {
		s.logger.Warn("stream ended with error", "error", runErr)
		if turn == nil || len(turn.Blocks) == 0 {
			return runErr
		}
	}

	s.commitTurnLocked(ctx, userMsg, turn, opts)

	s.bus.Publish(chatModels.Event{Kind: chatModels.EventInteractionComplete})
	s.resetKeepAlive()

	return nil
}

// buildRequest snapshots the history and assembles the payload.
func (s *Service) buildRequest() (*stream.Request, error) {
	s.histMu.Lock()
	snapshot := make([]chatModels.Message, len(s.history))
	copy(snapshot, s.history)
	s.histMu.Unlock()

	in := BuildInput{
		Model:         s.opts.Model,
		UseThinking:   s.opts.UseThinking,
		History:       snapshot,
		System:        s.opts.System,
		UseCache:      s.opts.UseCache,
		CacheTools:    s.opts.CacheTools,
		CacheSystem:   s.opts.CacheSystem,
		CacheMessages: s.opts.CacheMessages,
	}

	if s.opts.ToolUseEnabled && s.registry.Len() > 0 {
		in.Tools = s.registry.Definitions()
		in.ToolChoice = &chatModels.ToolChoice{Type: chatModels.ToolChoiceAuto}
	}

	return s.builder.Build(in)
}

// commitTurnLocked splits the completed turn. Turns without tool use are
// committed whole; turns with tool use commit their text portion now and
// buffer a per-call assistant message for each tool_use id.
func (s *Service) commitTurnLocked(ctx context.Context, userMsg chatModels.Message, turn *Turn, opts SendOptions) {
	persist := opts.Persist && !userMsg.IsKeepAlivePing()

	var textPortion []chatModels.ContentBlock
	var toolUses []chatModels.ContentBlock

	for _, block := range turn.Blocks {
		if block.Kind == chatModels.BlockKindToolUse {
			toolUses = append(toolUses, block)
			continue
		}
		textPortion = append(textPortion, block)
	}

	if len(toolUses) == 0 {
		if len(turn.Blocks) == 0 {
			s.logger.Warn("empty turn, nothing to commit", "stop_reason", turn.StopReason)
			return
		}
		s.appendHistory(chatModels.Message{Role: chatModels.RoleAssistant, Content: turn.Blocks}, persist)
		return
	}

	// Text portion first so later context reflects what the user saw.
	if len(textPortion) == 0 {
		textPortion = []chatModels.ContentBlock{chatModels.NewTextBlock(chatModels.ToolCalledText)}
	}
	s.appendHistory(chatModels.Message{Role: chatModels.RoleAssistant, Content: textPortion}, persist)

	for _, use := range toolUses {
		// The buffered message leads with a text block so tool_use is
		// never first.
		buffered := chatModels.Message{
			Role: chatModels.RoleAssistant,
			Content: []chatModels.ContentBlock{
				chatModels.NewTextBlock(chatModels.ToolCalledText),
				use,
			},
		}

		if pair := s.buffer.BufferUse(use.ToolUseID, buffered); pair != nil {
			// Result arrived before the use was buffered.
			if err := s.deliverPairLocked(ctx, *pair); err != nil {
				s.logger.Warn("pair delivery failed", "tool_use_id", pair.ToolUseID, "error", err)
			}
			continue
		}

		s.dispatchTool(use)
	}
}

// dispatchTool consults the permission gate and either runs the handler
// concurrently or synthesizes the permission-denied result.
func (s *Service) dispatchTool(use chatModels.ContentBlock) {
	name := use.ToolName
	id := use.ToolUseID

	if !s.gate.IsAllowed(name) {
		s.logger.Warn("tool denied", "tool", name, "tool_use_id", id)
		go func() {
			outcome := domainchat.ToolOutcome{
				ToolUseID:   id,
				OutputLines: []string{tools.DeniedPayload(name)},
				IsError:     true,
			}
			if err := s.IngestToolResults(context.Background(), []domainchat.ToolOutcome{outcome}); err != nil {
				s.logger.Warn("denied-tool result ingestion failed", "tool_use_id", id, "error", err)
			}
		}()
		return
	}

	if s.gate.Initiator() == "" {
		s.gate.StartChain(name)
	}

	reg, _ := s.registry.Get(name)
	input := use.Input

	go func() {
		execCtx, cancel := context.WithTimeout(context.Background(), s.opts.PairTimeout)
		defer cancel()

		lines, err := reg.Handler.Execute(execCtx, input)

		outcome := domainchat.ToolOutcome{ToolUseID: id, OutputLines: lines}
		if err != nil {
			outcome.OutputLines = []string{fmt.Sprintf("tool %s failed: %v", name, err)}
			outcome.IsError = true
		}

		if ingestErr := s.IngestToolResults(context.Background(), []domainchat.ToolOutcome{outcome}); ingestErr != nil {
			s.logger.Warn("tool result ingestion failed", "tool_use_id", id, "error", ingestErr)
		}
	}()
}

// appendHistory appends one message to history and, when requested and a
// store is wired, to the persistent store.
func (s *Service) appendHistory(msg chatModels.Message, persist bool) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	s.histMu.Lock()
	s.history = append(s.history, msg)
	s.histMu.Unlock()

	if persist && s.store != nil {
		if err := s.store.AppendMessage(context.Background(), &msg); err != nil {
			s.logger.Warn("persist message failed", "role", msg.Role, "error", err)
		}
	}
}

func (s *Service) resetKeepAlive() {
	if err := s.keepAlive.Reset(); err != nil {
		s.logger.Warn("keep-alive reset failed", "error", err)
	}
}

// toolResultMessage packages one tool outcome as a user message.
func toolResultMessage(outcome domainchat.ToolOutcome) chatModels.Message {
	nested := make([]chatModels.ContentBlock, 0, len(outcome.OutputLines))
	for _, line := range outcome.OutputLines {
		nested = append(nested, chatModels.NewTextBlock(line))
	}

	return chatModels.Message{
		Role: chatModels.RoleUser,
		Content: []chatModels.ContentBlock{
			chatModels.NewTextBlock(chatModels.ToolResultText),
			chatModels.NewToolResultBlock(outcome.ToolUseID, nested, outcome.IsError),
		},
	}
}

// stripToolBlocks removes tool_use/tool_result blocks from loaded history
// when tool use is disabled, dropping messages left empty.
func stripToolBlocks(msgs []chatModels.Message) []chatModels.Message {
	var out []chatModels.Message
	for _, m := range msgs {
		var blocks []chatModels.ContentBlock
		for _, b := range m.Content {
			if b.Kind == chatModels.BlockKindToolUse || b.Kind == chatModels.BlockKindToolResult {
				continue
			}
			blocks = append(blocks, b)
		}
		if len(blocks) == 0 {
			continue
		}
		m.Content = blocks
		out = append(out, m)
	}
	return out
}
