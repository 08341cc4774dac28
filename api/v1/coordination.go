// Package apiv1 defines the coordination service workers use to exchange
// round data.
package apiv1

import (
	"encoding/binary"
	"fmt"
)

type StartRoundRequest struct {
	RoundId         uint64
	ExpectedWorkers int32
}

type StartRoundResponse struct {
	Success bool
}

type KeyValuePair struct {
	Key   string
	Value []byte
}

type PublishValuesRequest struct {
	RoundId  uint64
	WorkerId string
	Pairs    []*KeyValuePair
}

type PublishValuesResponse struct {
	Success bool
}

type GetValueRequest struct {
	RoundId uint64
	Key     string
}

type GetValueResponse struct {
	Value []byte
}

// RoundVotesKey holds the summed votes of a completed round.
const RoundVotesKey = "round-votes"

// MailboxKey names the batch fragment src sent to fragment dst.
func MailboxKey(dst, src int) string {
	return fmt.Sprintf("mailbox/%d/%d", dst, src)
}

// VoteKey names the votes fragment src cast.
func VoteKey(src int) string {
	return fmt.Sprintf("votes/%d", src)
}

// VotePrefix is shared by every VoteKey.
const VotePrefix = "votes/"

// EncodeVotes stores a vote count as 8 little-endian bytes.
func EncodeVotes(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

// DecodeVotes reads a value written by EncodeVotes.
func DecodeVotes(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("vote value must be 8 bytes, got %d", len(b))
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}
