package domainerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite tests the domain error primitives.
//
// These are the core error primitives used at every trust boundary, so the
// invariants "wrapped domain errors preserve the original code" and
// "errors.Is matches by code" get their own unit coverage.
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeFileTooLarge, Message: "file exceeds 5MB limit"}
		s.Equal("file exceeds 5MB limit", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeAdmissionDenied}
		s.Equal("admission_denied", err.Error())
	})
}

func (s *DomainErrorsSuite) TestUnwrap() {
	s.Run("returns wrapped error", func() {
		inner := errors.New("connection refused")
		err := &Error{Code: CodeUpstream, Message: "upstream unreachable", Err: inner}
		s.Equal(inner, err.Unwrap())
	})

	s.Run("returns nil when no wrapped error", func() {
		err := &Error{Code: CodeValidation, Message: "no file provided"}
		s.Nil(err.Unwrap())
	})
}

func (s *DomainErrorsSuite) TestIsMatching() {
	s.Run("matches by code only", func() {
		err1 := &Error{Code: CodeQuotaViolation, Message: "too many files"}
		err2 := &Error{Code: CodeQuotaViolation, Message: "expiration requires pro"}
		s.True(err1.Is(err2))
	})

	s.Run("does not match different codes", func() {
		err1 := &Error{Code: CodeUpstream}
		err2 := &Error{Code: CodeTimeout}
		s.False(err1.Is(err2))
	})

	s.Run("works with errors.Is through chain", func() {
		inner := &Error{Code: CodeConfiguration, Message: "signing secret not set"}
		wrapped := &Error{Code: CodeInternal, Message: "token issuance failed", Err: inner}
		target := &Error{Code: CodeConfiguration}

		s.True(errors.Is(wrapped, target))
	})
}

func (s *DomainErrorsSuite) TestWrap() {
	s.Run("preserves original domain code when wrapping domain error", func() {
		original := New(CodeUpstream, "status 503 from image host")
		wrapped := Wrap(original, CodeInternal, "bulk forwarding failed")

		var domainErr *Error
		s.Require().True(errors.As(wrapped, &domainErr))
		s.Equal(CodeUpstream, domainErr.Code)
		s.Equal("bulk forwarding failed", domainErr.Message)
	})

	s.Run("uses provided code when wrapping non-domain error", func() {
		original := errors.New("dial tcp: i/o timeout")
		wrapped := Wrap(original, CodeTimeout, "upstream deadline exceeded")

		var domainErr *Error
		s.Require().True(errors.As(wrapped, &domainErr))
		s.Equal(CodeTimeout, domainErr.Code)
	})
}

func (s *DomainErrorsSuite) TestHasCode() {
	s.Run("finds code through wrap chain", func() {
		err := Wrap(New(CodeFileTooLarge, "too big"), CodeInternal, "rejected")
		s.True(HasCode(err, CodeFileTooLarge))
		s.False(HasCode(err, CodeInternal))
	})

	s.Run("false for plain errors", func() {
		s.False(HasCode(errors.New("nope"), CodeInternal))
	})
}
