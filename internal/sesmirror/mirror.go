// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package sesmirror copies suppressions into the Amazon SES account-level
// suppression list so the sending provider refuses them too.
package sesmirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/elektrine/ingestion/internal/models"
)

// PutSuppressedDestinationAPI is the SES v2 operation the mirror calls.
type PutSuppressedDestinationAPI interface {
	PutSuppressedDestination(ctx context.Context, params *sesv2.PutSuppressedDestinationInput, optFns ...func(*sesv2.Options)) (*sesv2.PutSuppressedDestinationOutput, error)
}

// Mirror implements suppression.Mirror against SES.
type Mirror struct {
	client PutSuppressedDestinationAPI
}

// New loads the default AWS credential chain for region.
func New(ctx context.Context, region string) (*Mirror, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	slog.Info("ses suppression mirror enabled", "region", region)
	return &Mirror{client: sesv2.NewFromConfig(awsCfg)}, nil
}

// NewWithClient creates a Mirror around an existing client.
func NewWithClient(client PutSuppressedDestinationAPI) *Mirror {
	return &Mirror{client: client}
}

// Suppress adds email to the SES suppression list.
func (m *Mirror) Suppress(ctx context.Context, email string, reason models.SuppressionReason) error {
	_, err := m.client.PutSuppressedDestination(ctx, &sesv2.PutSuppressedDestinationInput{
		EmailAddress: aws.String(email),
		Reason:       sesReason(reason),
	})
	if err != nil {
		return fmt.Errorf("ses put suppressed destination: %w", err)
	}
	return nil
}

// SES only knows bounces and complaints; manual entries count as bounces.
func sesReason(r models.SuppressionReason) types.SuppressionListReason {
	if r == models.ReasonComplaint {
		return types.SuppressionListReasonComplaint
	}
	return types.SuppressionListReasonBounce
}
