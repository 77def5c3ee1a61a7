package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	chatModels "parley/internal/domain/models/chat"
	"parley/internal/service/chat/stream"
	"parley/internal/utils"
)

// Stop reasons surfaced on completed turns
const (
	StopReasonCancelled = "cancelled_by_user"
	StopReasonToolUse   = "tool_use"
	StopReasonEndTurn   = "end_turn"
)

// Turn is one completed assistant turn: finalized content blocks in index
// order plus stream-level metadata.
type Turn struct {
	Blocks     []chatModels.ContentBlock
	StopReason string
	Usage      chatModels.Usage
}

// blockAccumulator collects deltas for one in-progress content block.
type blockAccumulator struct {
	kind      string
	text      strings.Builder
	inputJSON strings.Builder
	signature string
	toolUseID string
	toolName  string
	redacted  string

	sawTextFragment bool
	finalized       *chatModels.ContentBlock
}

// Assembler collapses decoded stream events into a completed assistant
// turn, republishing deltas to the streaming bus as they arrive.
//
// Thread-safety: not thread-safe; one Assembler serves one stream.
type Assembler struct {
	publish func(chatModels.Event)
	logger  *slog.Logger

	accumulators map[int]*blockAccumulator
	stopReason   string
	usage        chatModels.Usage
}

// NewAssembler creates an Assembler publishing to the given bus function.
func NewAssembler(publish func(chatModels.Event), logger *slog.Logger) *Assembler {
	return &Assembler{
		publish:      publish,
		logger:       logger,
		accumulators: make(map[int]*blockAccumulator),
	}
}

// Run consumes the decoder until the stream ends and returns the completed
// turn.
//
// The turn is non-nil in every outcome so already-assembled content can
// survive: protocol and server errors return (turn, err); cancellation
// returns (turn, nil) with stop reason cancelled_by_user and the
// generation-stopped marker appended to the last text block.
func (a *Assembler) Run(ctx context.Context, decoder *stream.Decoder) (*Turn, error) {
	for {
		event, err := decoder.Next(ctx)

		if err != nil {
			switch {
			case err == io.EOF:
				// Server close without message_stop ends the turn cleanly.
				return a.finalizeTurn(), nil

			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
				return a.finalizeCancelled(), nil

			default:
				var protoErr *stream.ProtocolError
				if errors.As(err, &protoErr) {
					a.publish(chatModels.Event{
						Kind:    chatModels.EventError,
						Tag:     "protocol_error",
						Content: protoErr.Error(),
					})
					return a.finalizeTurn(), err
				}
				return a.finalizeTurn(), err
			}
		}

		done, err := a.process(event)
		if err != nil {
			return a.finalizeTurn(), err
		}
		if done {
			return a.finalizeTurn(), nil
		}
	}
}

// process handles one decoded event. Returns done=true on message_stop.
func (a *Assembler) process(event *stream.Event) (bool, error) {
	switch event.Kind {
	case stream.MessageStart:
		if event.Usage != nil {
			a.usage.Add(*event.Usage)
		}
		a.publish(chatModels.Event{Kind: chatModels.EventMessageStart, JSON: []byte(event.Raw)})

	case stream.ContentBlockStart:
		a.accumulators[event.Index] = &blockAccumulator{
			kind:      event.BlockKind,
			toolUseID: event.ToolUseID,
			toolName:  event.ToolName,
			redacted:  event.Redacted,
		}
		a.publish(chatModels.Event{
			Kind:    chatModels.EventContentBlockStart,
			Content: event.BlockKind,
			Tag:     fmt.Sprintf("%d", event.Index),
		})

	case stream.ContentBlockDelta:
		acc, ok := a.accumulators[event.Index]
		if !ok {
			// The decoder guarantees start-before-delta; belt and braces.
			return false, &stream.ProtocolError{Detail: fmt.Sprintf("delta for unknown index %d", event.Index)}
		}
		a.accumulate(acc, event.Delta)
		a.publish(chatModels.Event{
			Kind:    chatModels.EventContentBlockDelta,
			Content: deltaBody(event.Delta),
			Tag:     fmt.Sprintf("%d", event.Index),
		})

	case stream.ContentBlockStop:
		if acc, ok := a.accumulators[event.Index]; ok {
			a.finalizeBlock(event.Index, acc)
		}
		a.publish(chatModels.Event{
			Kind: chatModels.EventContentBlockStop,
			Tag:  fmt.Sprintf("%d", event.Index),
		})

	case stream.MessageDelta:
		if event.StopReason != "" {
			a.stopReason = event.StopReason
		}
		if event.Usage != nil {
			a.usage.Add(*event.Usage)
			usageJSON := fmt.Sprintf(`{"input_tokens":%d,"output_tokens":%d}`,
				a.usage.InputTokens, a.usage.OutputTokens)
			a.publish(chatModels.Event{Kind: chatModels.EventUsage, JSON: []byte(usageJSON)})
		}
		a.publish(chatModels.Event{Kind: chatModels.EventMessageDelta, Content: event.StopReason})

	case stream.MessageStop:
		a.publish(chatModels.Event{Kind: chatModels.EventMessageStop})
		return true, nil

	case stream.Ping:
		a.publish(chatModels.Event{Kind: chatModels.EventPing})

	case stream.ErrorEvent:
		a.publish(chatModels.Event{
			Kind:    chatModels.EventError,
			Tag:     event.ErrKind,
			Content: event.ErrDetail,
		})
		return false, fmt.Errorf("stream error: %s: %s", event.ErrKind, event.ErrDetail)
	}

	return false, nil
}

// accumulate appends one delta to its block's buffer.
func (a *Assembler) accumulate(acc *blockAccumulator, delta *stream.Delta) {
	if delta == nil {
		return
	}

	switch delta.Type {
	case stream.DeltaText:
		fragment := delta.Text
		if !acc.sawTextFragment {
			// Providers often lead the first fragment with a newline.
			fragment = strings.TrimPrefix(fragment, "\n")
			acc.sawTextFragment = true
		}
		acc.text.WriteString(fragment)

	case stream.DeltaThinking:
		acc.text.WriteString(delta.Thinking)

	case stream.DeltaInputJSON:
		acc.inputJSON.WriteString(delta.PartialJSON)

	case stream.DeltaSignature:
		acc.signature = delta.Signature
	}
}

// finalizeBlock converts an accumulator into its finished content block.
// A tool input that cannot be parsed (even after repair) keeps the turn:
// an Error event is published and the block keeps an empty input object.
func (a *Assembler) finalizeBlock(index int, acc *blockAccumulator) {
	if acc.finalized != nil {
		return
	}

	var block chatModels.ContentBlock

	switch acc.kind {
	case chatModels.BlockKindText:
		block = chatModels.NewTextBlock(acc.text.String())

	case chatModels.BlockKindThinking:
		block = chatModels.ContentBlock{
			Kind:      chatModels.BlockKindThinking,
			Thinking:  acc.text.String(),
			Signature: acc.signature,
		}

	case chatModels.BlockKindRedactedThinking:
		block = chatModels.ContentBlock{
			Kind:     chatModels.BlockKindRedactedThinking,
			Redacted: acc.redacted,
		}

	case chatModels.BlockKindToolUse:
		input, err := utils.ParseJSONObject(acc.inputJSON.String())
		if err != nil {
			a.logger.Warn("tool input unparseable, keeping turn",
				"tool", acc.toolName,
				"tool_use_id", acc.toolUseID,
				"error", err,
			)
			a.publish(chatModels.Event{
				Kind:    chatModels.EventError,
				Tag:     "protocol_error",
				Content: fmt.Sprintf("tool input for %s unparseable: %v", acc.toolName, err),
			})
			input = map[string]interface{}{}
		}
		block = chatModels.NewToolUseBlock(acc.toolUseID, acc.toolName, input)

	default:
		a.logger.Warn("unknown block kind at finalize", "kind", acc.kind, "index", index)
		block = chatModels.NewTextBlock(acc.text.String())
	}

	acc.finalized = &block
}

// finalizeTurn finalizes any still-open blocks and returns the turn with
// blocks in ascending index order.
func (a *Assembler) finalizeTurn() *Turn {
	indices := make([]int, 0, len(a.accumulators))
	for index := range a.accumulators {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	turn := &Turn{StopReason: a.stopReason, Usage: a.usage}
	for _, index := range indices {
		acc := a.accumulators[index]
		a.finalizeBlock(index, acc)
		turn.Blocks = append(turn.Blocks, *acc.finalized)
	}
	return turn
}

// finalizeCancelled finalizes the turn after a user stop: the last text
// block gets the generation-stopped marker and the stop reason records the
// cancellation. Split/buffer logic downstream still runs on the result.
func (a *Assembler) finalizeCancelled() *Turn {
	turn := a.finalizeTurn()
	turn.StopReason = StopReasonCancelled

	appended := false
	for i := len(turn.Blocks) - 1; i >= 0; i-- {
		if turn.Blocks[i].Kind == chatModels.BlockKindText {
			turn.Blocks[i].Text += chatModels.GenerationStoppedMarker
			appended = true
			break
		}
	}
	if !appended {
		turn.Blocks = append(turn.Blocks, chatModels.NewTextBlock(chatModels.GenerationStoppedMarker))
	}

	a.publish(chatModels.Event{Kind: chatModels.EventCancelled})
	return turn
}

// deltaBody extracts the human-readable fragment of a delta for the bus.
func deltaBody(delta *stream.Delta) string {
	if delta == nil {
		return ""
	}
	switch delta.Type {
	case stream.DeltaText:
		return delta.Text
	case stream.DeltaThinking:
		return delta.Thinking
	case stream.DeltaInputJSON:
		return delta.PartialJSON
	default:
		return ""
	}
}
