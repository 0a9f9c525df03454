package schemas

import (
	"errors"
	"fmt"

	z "github.com/Oudwins/zog"
)

var ErrValidation = errors.New("validation failed")

type ListQuery struct {
	Status AnalysisStatus `json:"status" zog:"status"`
	Search string         `json:"search" zog:"search"`
}

var ListQuerySchema = z.Struct(z.Shape{
	"Status": z.StringLike[AnalysisStatus]().Optional().Trim().OneOf(AnalysisStatuses),
	"Search": z.String().Optional().Trim(),
})

type SubmitRequest struct {
	MediaID int64  `json:"media_id" zog:"media_id"`
	Model   string `json:"model" zog:"model"`
	Prompt  string `json:"prompt,omitempty" zog:"prompt"`
}

var SubmitRequestSchema = z.Struct(z.Shape{
	"MediaID": z.Int64().Required().GT(0),
	"Model":   z.String().Required().Trim().Min(1),
	"Prompt":  z.String().Optional().Trim(),
})

// ValidateListQuery trims q in place and rejects unknown statuses.
func ValidateListQuery(q *ListQuery) error {
	if issues := ListQuerySchema.Validate(q); len(issues) > 0 {
		return fmt.Errorf("%w: invalid query:\n%s", ErrValidation, z.Issues.Prettify(issues))
	}
	return nil
}

func ValidateSubmitRequest(r *SubmitRequest) error {
	if issues := SubmitRequestSchema.Validate(r); len(issues) > 0 {
		return fmt.Errorf("%w: invalid analysis request:\n%s", ErrValidation, z.Issues.Prettify(issues))
	}
	return nil
}
