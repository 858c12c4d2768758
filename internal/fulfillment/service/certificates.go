package service

import (
	"context"

	"coursecert/internal/fulfillment/models"
	id "coursecert/pkg/domain"
	dErrors "coursecert/pkg/domain-errors"
	"coursecert/pkg/requestcontext"
)

// IssueDraftParams describes a certificate to issue for a verified passing
// course attempt.
type IssueDraftParams struct {
	StudentID    id.StudentID
	CourseID     id.CourseID
	Jurisdiction string
	StudentName  string
	AddressLine1 string
	AddressLine2 string
	City         string
	Region       string
	PostalCode   string
}

func (p IssueDraftParams) validate() error {
	switch {
	case p.StudentID.IsNil():
		return dErrors.New(dErrors.CodeBadRequest, "student_id is required")
	case p.CourseID.IsNil():
		return dErrors.New(dErrors.CodeBadRequest, "course_id is required")
	case p.Jurisdiction == "":
		return dErrors.New(dErrors.CodeBadRequest, "jurisdiction is required")
	case p.StudentName == "":
		return dErrors.New(dErrors.CodeBadRequest, "student_name is required")
	case p.AddressLine1 == "" || p.City == "" || p.Region == "" || p.PostalCode == "":
		return dErrors.New(dErrors.CodeBadRequest, "a complete mailing address is required")
	}
	return nil
}

// IssueDraft creates a draft certificate. Drafts hold the mailing details
// but stay out of the eligible pool until marked ready.
func (s *Service) IssueDraft(ctx context.Context, params IssueDraftParams) (*models.Certificate, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC()

	cert, err := models.NewCertificate(id.NewCertificateID(), params.StudentID, params.CourseID, params.Jurisdiction, now)
	if err != nil {
		return nil, err
	}
	cert.StudentName = params.StudentName
	cert.AddressLine1 = params.AddressLine1
	cert.AddressLine2 = params.AddressLine2
	cert.City = params.City
	cert.Region = params.Region
	cert.PostalCode = params.PostalCode

	if err := s.certs.Save(ctx, cert); err != nil {
		return nil, storeErr(err, "save certificate")
	}
	s.logger.InfoContext(ctx, "certificate issued",
		"certificate_id", cert.ID, "jurisdiction", cert.Jurisdiction)
	return cert, nil
}

// MarkReady promotes a draft certificate into the eligible pool. Marking an
// already ready certificate is a no-op.
func (s *Service) MarkReady(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC()

	cert, err := s.certs.Execute(ctx, certID,
		func(c *models.Certificate) error {
			_, _, err := models.TransitionCertificate(c.Status, models.CertEventMarkReady)
			return err
		},
		func(c *models.Certificate) {
			_, _ = c.ApplyMarkReady(now)
		},
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, err
		}
		return nil, storeErr(err, "mark certificate ready")
	}
	return cert, nil
}

// GetCertificate returns one certificate by ID.
func (s *Service) GetCertificate(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	cert, err := s.certs.FindByID(ctx, certID)
	if err != nil {
		return nil, storeErr(err, "find certificate")
	}
	return cert, nil
}
