package app

import (
	"context"
	"testing"

	"warden/api/internal/store"
)

func TestSaveClassificationNormalizesFlags(t *testing.T) {
	var saved store.Classification
	fs := &fakeStore{
		getProjectFn: func(context.Context, string) (store.Project, error) {
			return store.Project{ID: "proj_1"}, nil
		},
		saveClassificationFn: func(_ context.Context, c store.Classification) error {
			saved = c
			return nil
		},
		getClassificationFn: func(context.Context, string) (store.Classification, error) {
			return saved, nil
		},
	}
	svc := newTestService(fs)

	result, err := svc.SaveClassification(context.Background(), "proj_1", "usr_1", ClassificationInput{
		PII: "yes", PHI: "no", Financial: "maybe", Legal: "NO", MinorData: "no",
		AIExposure: "restricted",
	})
	if err != nil {
		t.Fatalf("save classification: %v", err)
	}
	if saved.PII != "YES" || saved.Financial != "UNKNOWN" || saved.AIExposure != "RESTRICTED" {
		t.Errorf("saved = %+v", saved)
	}
	if result["declared"] != false {
		t.Error("a classification with an UNKNOWN flag is undeclared")
	}
}

func TestSaveClassificationPHIRequiresConfidential(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(context.Context, string) (store.Project, error) {
			return store.Project{ID: "proj_1"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SaveClassification(context.Background(), "proj_1", "usr_1", ClassificationInput{
		PII: "no", PHI: "yes", Financial: "no", Legal: "no", MinorData: "no",
		AIExposure: "INTERNAL",
	})
	wantDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestSaveClassificationMinorDataRequiresRestricted(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(context.Context, string) (store.Project, error) {
			return store.Project{ID: "proj_1"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SaveClassification(context.Background(), "proj_1", "usr_1", ClassificationInput{
		PII: "no", PHI: "no", Financial: "no", Legal: "no", MinorData: "yes",
		AIExposure: "CONFIDENTIAL",
	})
	wantDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestSaveClassificationUnknownFlagRaisesExposure(t *testing.T) {
	var saved store.Classification
	fs := &fakeStore{
		getProjectFn: func(context.Context, string) (store.Project, error) {
			return store.Project{ID: "proj_1"}, nil
		},
		saveClassificationFn: func(_ context.Context, c store.Classification) error {
			saved = c
			return nil
		},
		getClassificationFn: func(context.Context, string) (store.Classification, error) {
			return saved, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.SaveClassification(context.Background(), "proj_1", "usr_1", ClassificationInput{
		PII: "unknown", PHI: "no", Financial: "no", Legal: "no", MinorData: "no",
		AIExposure: "INTERNAL",
	}); err != nil {
		t.Fatalf("save classification: %v", err)
	}
	if saved.AIExposure != "CONFIDENTIAL" {
		t.Errorf("exposure = %s, want forced up to CONFIDENTIAL while undeclared", saved.AIExposure)
	}
}

func TestSecurityGatesVerdict(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(context.Context, string) (store.Project, error) {
			return store.Project{ID: "proj_1"}, nil
		},
		getClassificationFn: func(context.Context, string) (store.Classification, error) {
			return store.Classification{PII: "UNKNOWN", PHI: "NO", Financial: "NO", Legal: "NO", MinorData: "NO"}, nil
		},
	}
	svc := newTestService(fs)

	result, err := svc.SecurityGates(context.Background(), "proj_1")
	if err != nil {
		t.Fatalf("security gates: %v", err)
	}
	if result["executionAllowed"] != false {
		t.Error("undeclared classification must deny execution")
	}
	if len(result["gates"].([]map[string]any)) != 6 {
		t.Errorf("gates = %v", result["gates"])
	}
}

func TestValidateExposure(t *testing.T) {
	cases := []struct {
		name           string
		classification store.Classification
		proposed       string
		wantAllowed    bool
	}{
		{
			name:           "prohibited project blocks everything",
			classification: store.Classification{PII: "NO", PHI: "NO", Financial: "NO", Legal: "NO", MinorData: "NO", AIExposure: "PROHIBITED"},
			proposed:       "RESTRICTED",
			wantAllowed:    false,
		},
		{
			name:           "undeclared blocks public",
			classification: store.Classification{PII: "UNKNOWN", AIExposure: "CONFIDENTIAL"},
			proposed:       "PUBLIC",
			wantAllowed:    false,
		},
		{
			name:           "weaker exposure for sensitive data",
			classification: store.Classification{PII: "YES", PHI: "NO", Financial: "NO", Legal: "NO", MinorData: "NO", AIExposure: "RESTRICTED"},
			proposed:       "INTERNAL",
			wantAllowed:    false,
		},
		{
			name:           "matching exposure allowed",
			classification: store.Classification{PII: "NO", PHI: "NO", Financial: "NO", Legal: "NO", MinorData: "NO", AIExposure: "INTERNAL"},
			proposed:       "internal",
			wantAllowed:    true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var logged *store.ExposureLogEntry
			fs := &fakeStore{
				getProjectFn: func(context.Context, string) (store.Project, error) {
					return store.Project{ID: "proj_1"}, nil
				},
				getClassificationFn: func(context.Context, string) (store.Classification, error) {
					return tc.classification, nil
				},
				insertExposureLogFn: func(_ context.Context, entry store.ExposureLogEntry) error {
					logged = &entry
					return nil
				},
			}
			svc := newTestService(fs)

			result, err := svc.ValidateExposure(context.Background(), "proj_1", "usr_1", tc.proposed)
			if err != nil {
				t.Fatalf("validate exposure: %v", err)
			}
			if result["allowed"] != tc.wantAllowed {
				t.Errorf("allowed = %v, want %v (%v)", result["allowed"], tc.wantAllowed, result["reason"])
			}
			if logged == nil {
				t.Fatal("every decision must be logged")
			}
			if logged.Allowed != tc.wantAllowed {
				t.Errorf("log entry allowed = %v", logged.Allowed)
			}
		})
	}
}

func TestValidateExposureUnknownLevel(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(context.Context, string) (store.Project, error) {
			return store.Project{ID: "proj_1"}, nil
		},
		getClassificationFn: func(context.Context, string) (store.Classification, error) {
			return declaredClassification(), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ValidateExposure(context.Background(), "proj_1", "usr_1", "TOP_SECRET")
	wantDomainError(t, err, 422, "VALIDATION_ERROR")
}
