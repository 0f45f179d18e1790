package iam

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tabular/tabular-backend/pkg/config"
	"github.com/tabular/tabular-backend/pkg/logger"
)

const verifyAccessTokenMethod = "/iam.v1.IdentityService/VerifyAccessToken"

// rawFrame carries pre-encoded protobuf bytes through the grpc stack.
// The verification contract is two small messages, so the frames are
// wired by hand with protowire instead of generated message types.
type rawFrame struct {
	data []byte
}

type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	frame, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf("rawCodec: unexpected message type %T", v)
	}
	return frame.data, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	frame, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("rawCodec: unexpected message type %T", v)
	}
	frame.data = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return "proto" }

// GRPCClient calls the identity service's VerifyAccessToken RPC
type GRPCClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logger  *logger.Logger
}

// NewGRPCClient dials the identity service endpoint. The connection is
// lazy; failures surface on the first call, where the breaker in the
// caching verifier handles them.
func NewGRPCClient(cfg *config.IAMConfig, log *logger.Logger) (*GRPCClient, error) {
	conn, err := grpc.Dial(cfg.GRPCEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial identity service: %w", err)
	}

	return &GRPCClient{
		conn:    conn,
		timeout: cfg.Timeout(),
		logger:  log.WithComponent("iam_grpc_client"),
	}, nil
}

// Close tears down the client connection
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// Verify performs the VerifyAccessToken RPC
func (c *GRPCClient) Verify(ctx context.Context, accessToken string) (*VerificationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request := &rawFrame{data: encodeVerifyRequest(accessToken)}
	response := &rawFrame{}

	if err := c.conn.Invoke(ctx, verifyAccessTokenMethod, request, response); err != nil {
		return nil, fmt.Errorf("VerifyAccessToken call failed: %w", err)
	}

	result, err := decodeVerifyResponse(response.data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode VerifyAccessToken response: %w", err)
	}

	return result, nil
}

// encodeVerifyRequest encodes { access_token = 1 }
func encodeVerifyRequest(accessToken string) []byte {
	buf := protowire.AppendTag(nil, 1, protowire.BytesType)
	return protowire.AppendString(buf, accessToken)
}

// decodeVerifyResponse decodes
//
//	{ is_valid = 1, subject_id = 2, jti = 3, exp_epoch_seconds = 4, error_message = 5 }
func decodeVerifyResponse(data []byte) (*VerificationResult, error) {
	result := &VerificationResult{}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			result.IsValid = v != 0
			data = data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			result.SubjectID = v
			data = data[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			result.TokenID = v
			data = data[n:]
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			result.ExpEpochSeconds = v
			data = data[n:]
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			result.ErrorMessage = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}

	return result, nil
}
