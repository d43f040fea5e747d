package transcoder

import "context"

// Gateway runs encoder jobs. Execute blocks until the job finishes and
// returns an *EncodeFailure when the encoder fails.
type Gateway interface {
	Execute(ctx context.Context, job *JobSpec) (*RenditionSet, error)
}
