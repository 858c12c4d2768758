package handler

import (
	"coursecert/internal/fulfillment/service"
	id "coursecert/pkg/domain"
	dErrors "coursecert/pkg/domain-errors"
)

type createBatchRequest struct {
	Jurisdiction string `json:"jurisdiction"`
	CourseID     string `json:"course_id"`
}

func (r createBatchRequest) validate() (id.CourseID, error) {
	if r.Jurisdiction == "" {
		return id.CourseID{}, dErrors.New(dErrors.CodeBadRequest, "jurisdiction is required")
	}
	courseID, err := id.ParseCourseID(r.CourseID)
	if err != nil {
		return id.CourseID{}, err
	}
	return courseID, nil
}

type addStockRequest struct {
	Jurisdiction string   `json:"jurisdiction"`
	Serials      []string `json:"serials"`
}

type issueDraftRequest struct {
	StudentID    string `json:"student_id"`
	CourseID     string `json:"course_id"`
	Jurisdiction string `json:"jurisdiction"`
	StudentName  string `json:"student_name"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city"`
	Region       string `json:"region"`
	PostalCode   string `json:"postal_code"`
}

func (r issueDraftRequest) validate() (service.IssueDraftParams, error) {
	studentID, err := id.ParseStudentID(r.StudentID)
	if err != nil {
		return service.IssueDraftParams{}, dErrors.New(dErrors.CodeBadRequest, "student_id must be a valid UUID")
	}
	courseID, err := id.ParseCourseID(r.CourseID)
	if err != nil {
		return service.IssueDraftParams{}, dErrors.New(dErrors.CodeBadRequest, "course_id must be a valid UUID")
	}
	return service.IssueDraftParams{
		StudentID:    studentID,
		CourseID:     courseID,
		Jurisdiction: r.Jurisdiction,
		StudentName:  r.StudentName,
		AddressLine1: r.AddressLine1,
		AddressLine2: r.AddressLine2,
		City:         r.City,
		Region:       r.Region,
		PostalCode:   r.PostalCode,
	}, nil
}
