package services

import (
	"encoding/json"
	"fmt"

	"github.com/trobanga/hermes/internal/lib"
	"github.com/trobanga/hermes/internal/models"
)

// ConvertRequest is the FHIR Parameters payload for the $convert-data operation
type ConvertRequest struct {
	ResourceType string             `json:"resourceType"`
	Parameter    []ConvertParameter `json:"parameter"`
}

// ConvertParameter is one named parameter of the conversion request
type ConvertParameter struct {
	Name        string `json:"name"`
	ValueString string `json:"valueString"`
}

// BuildConvertRequest constructs the conversion request for one message.
// Pure function, no side effects. Fails with a configuration error when no
// root template can be resolved for the message's format.
func BuildConvertRequest(msg models.Message, service models.ServiceConfig) (ConvertRequest, error) {
	rootTemplate := service.ResolveRootTemplate(msg)
	if rootTemplate == "" {
		return ConvertRequest{}, lib.ErrUnresolvedTemplate(msg.MessageID, string(msg.Format))
	}

	if !models.IsValidFormatTag(msg.Format) {
		return ConvertRequest{}, fmt.Errorf("unknown input data type %q for message %s", msg.Format, msg.MessageID)
	}

	return ConvertRequest{
		ResourceType: "Parameters",
		Parameter: []ConvertParameter{
			{Name: "inputData", ValueString: msg.RawText},
			{Name: "inputDataType", ValueString: string(msg.Format)},
			{Name: "templateCollectionReference", ValueString: service.TemplateCollection},
			{Name: "rootTemplate", ValueString: rootTemplate},
		},
	}, nil
}

// Marshal serializes the request payload
func (r ConvertRequest) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal convert request: %w", err)
	}
	return data, nil
}
