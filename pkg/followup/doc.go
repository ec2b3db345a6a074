// Package followup reconciles the suggested follow-up questions attached to
// a final answer.
//
// The upstream may embed follow-ups in the answer stream, or leave them in
// conversation variables (the side channel) where they must be read after
// the answer and then cleared. Stream-embedded questions always win; the
// side channel is only consulted when the stream carried none.
package followup
