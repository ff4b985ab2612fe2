package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/service"

	"github.com/gcp-broker/tokenbroker/pkg/auth/kerberos"
)

// negotiateHeader is the metadata key SPNEGO clients use to carry their
// AP-REQ, per RFC 4559.
const negotiateHeader = "authorization"

// negotiatePrefix is the SPNEGO scheme name.
const negotiatePrefix = "Negotiate "

// Kerberos authenticates a caller's AP-REQ against the broker's own
// keytab. Unlike the protocol layer's persistent RPCSEC_GSS context, the
// broker is one-shot: it verifies a single AP-REQ per call and never
// issues an AP-REP, so there is no ongoing GSS context to tear down.
type Kerberos struct {
	provider *kerberos.Provider
}

// NewKerberos builds a Kerberos primary variant backed by provider's
// keytab and configured service principal.
func NewKerberos(provider *kerberos.Provider) *Kerberos {
	return &Kerberos{provider: provider}
}

var _ PrimaryVariant = (*Kerberos)(nil)

// Authenticate extracts the SPNEGO-wrapped AP-REQ from md, verifies it
// against the keytab, and returns the client principal as
// "name@REALM". Any verification failure maps to a generic error; the rpc
// layer is responsible for turning that into codes.PermissionDenied, never
// leaking the underlying gokrb5 error to the caller.
func (k *Kerberos) Authenticate(ctx context.Context, md Metadata) (string, error) {
	raw := md.Get(negotiateHeader)
	if !strings.HasPrefix(raw, negotiatePrefix) {
		return "", ErrNoCredential
	}

	gssToken, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, negotiatePrefix))
	if err != nil {
		return "", fmt.Errorf("auth: decoding negotiate token: %w", err)
	}

	apReqBytes, err := extractAPReq(gssToken)
	if err != nil {
		return "", fmt.Errorf("auth: unwrapping gss token: %w", err)
	}

	var apReq messages.APReq
	if err := apReq.Unmarshal(apReqBytes); err != nil {
		return "", fmt.Errorf("auth: unmarshalling AP-REQ: %w", err)
	}

	settings := service.NewSettings(
		k.provider.Keytab(),
		service.MaxClockSkew(k.provider.MaxClockSkew()),
		service.DecodePAC(false),
		service.KeytabPrincipal(k.provider.ServicePrincipal()),
	)

	ok, _, err := service.VerifyAPREQ(&apReq, settings)
	if err != nil {
		return "", fmt.Errorf("auth: verifying AP-REQ: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("auth: AP-REQ verification rejected")
	}

	principal := apReq.Ticket.DecryptedEncPart.CName.PrincipalNameString()
	realm := apReq.Ticket.DecryptedEncPart.CRealm
	return principal + "@" + realm, nil
}

// extractAPReq strips the GSS-API/SPNEGO application-tag wrapper (RFC 2743
// §3.1, RFC 1964 §1.1) from an initial context token, returning the raw
// AP-REQ bytes gokrb5 can unmarshal. A token with no 0x60 application tag
// is assumed to already be a bare AP-REQ.
func extractAPReq(token []byte) ([]byte, error) {
	if len(token) < 2 {
		return nil, fmt.Errorf("token too short: %d bytes", len(token))
	}
	if token[0] != 0x60 {
		return token, nil
	}

	offset := 1
	length, bytesRead, err := parseASN1Length(token[offset:])
	if err != nil {
		return nil, fmt.Errorf("parse GSS token length: %w", err)
	}
	offset += bytesRead

	if offset+int(length) > len(token) {
		return nil, fmt.Errorf("GSS token truncated: expected %d bytes, have %d", offset+int(length), len(token))
	}

	if offset >= len(token) || token[offset] != 0x06 {
		return nil, fmt.Errorf("expected OID tag 0x06 at offset %d", offset)
	}
	offset++

	if offset >= len(token) {
		return nil, fmt.Errorf("truncated OID length")
	}
	oidLen := int(token[offset])
	offset++
	offset += oidLen
	if offset > len(token) {
		return nil, fmt.Errorf("truncated after OID")
	}

	// Per RFC 1964 §1.1 the inner token starts with a 2-byte token ID;
	// 0x01 0x00 identifies an AP-REQ.
	if offset+2 > len(token) {
		return nil, fmt.Errorf("truncated token ID")
	}
	tokenID := (uint16(token[offset]) << 8) | uint16(token[offset+1])
	if tokenID != 0x0100 {
		return nil, fmt.Errorf("unexpected krb5 token ID: 0x%04x (expected 0x0100 for AP-REQ)", tokenID)
	}
	offset += 2

	return token[offset:], nil
}

func parseASN1Length(data []byte) (int, int, error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("empty length field")
	}

	first := data[0]
	if first < 0x80 {
		return int(first), 1, nil
	}

	numBytes := int(first & 0x7f)
	if numBytes == 0 || numBytes > 4 {
		return 0, 0, fmt.Errorf("invalid ASN.1 length: %d bytes", numBytes)
	}
	if 1+numBytes > len(data) {
		return 0, 0, fmt.Errorf("truncated ASN.1 length")
	}

	length := 0
	for i := 1; i <= numBytes; i++ {
		length = (length << 8) | int(data[i])
	}
	return length, 1 + numBytes, nil
}
