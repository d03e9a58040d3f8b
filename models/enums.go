package models

type CaseStatus string

const (
	CaseStatusAwaiting      CaseStatus = "AWAITING"
	CaseStatusPreliminary   CaseStatus = "PRELIMINARY"
	CaseStatusInvestigation CaseStatus = "INVESTIGATION"
	CaseStatusConclusion    CaseStatus = "CONCLUSION"
	CaseStatusCompleted     CaseStatus = "COMPLETED"
	CaseStatusAbandoned     CaseStatus = "ABANDONED"
)

// phaseOrder is the only forward path a case may take.
var phaseOrder = []CaseStatus{
	CaseStatusAwaiting,
	CaseStatusPreliminary,
	CaseStatusInvestigation,
	CaseStatusConclusion,
	CaseStatusCompleted,
}

// CaseStatusOrder returns a copy of the forward phase path.
func CaseStatusOrder() []CaseStatus {
	return append([]CaseStatus(nil), phaseOrder...)
}

func (s CaseStatus) IsValid() bool {
	switch s {
	case CaseStatusAwaiting, CaseStatusPreliminary, CaseStatusInvestigation,
		CaseStatusConclusion, CaseStatusCompleted, CaseStatusAbandoned:
		return true
	}
	return false
}

func (s CaseStatus) IsTerminal() bool {
	return s == CaseStatusCompleted || s == CaseStatusAbandoned
}

// Next returns the immediate successor in the phase order.
func (s CaseStatus) Next() (CaseStatus, bool) {
	for i, p := range phaseOrder {
		if p == s && i+1 < len(phaseOrder) {
			return phaseOrder[i+1], true
		}
	}
	return "", false
}

// Rank orders statuses along the phase path; ABANDONED ranks -1.
func (s CaseStatus) Rank() int {
	for i, p := range phaseOrder {
		if p == s {
			return i
		}
	}
	return -1
}

type DocumentKind string

const (
	DocumentKindConvention      DocumentKind = "CONVENTION"
	DocumentKindAttendanceSheet DocumentKind = "ATTENDANCE_SHEET"
	DocumentKindSynthesis       DocumentKind = "SYNTHESIS"
	DocumentKindAttestation     DocumentKind = "ATTESTATION"
	DocumentKindCertificate     DocumentKind = "CERTIFICATE"
)

var AllDocumentKinds = []DocumentKind{
	DocumentKindConvention,
	DocumentKindAttendanceSheet,
	DocumentKindSynthesis,
	DocumentKindAttestation,
	DocumentKindCertificate,
}

func (k DocumentKind) IsValid() bool {
	for _, v := range AllDocumentKinds {
		if v == k {
			return true
		}
	}
	return false
}

// OncePerCase reports whether a case may hold at most one document of this kind.
func (k DocumentKind) OncePerCase() bool {
	switch k {
	case DocumentKindConvention, DocumentKindAttestation, DocumentKindCertificate:
		return true
	}
	return false
}

// NumberPrefix is the leading segment of a document number.
func (k DocumentKind) NumberPrefix() string {
	switch k {
	case DocumentKindConvention:
		return "CONV"
	case DocumentKindAttendanceSheet:
		return "EMARG"
	case DocumentKindSynthesis:
		return "SYNTH"
	case DocumentKindAttestation:
		return "ATTEST"
	case DocumentKindCertificate:
		return "CERT"
	}
	return "DOC"
}

// RequiredSigners lists the parties that must sign before the document becomes SIGNED.
// Kinds with no entry never pass through SIGNED.
func (k DocumentKind) RequiredSigners() []Party {
	switch k {
	case DocumentKindConvention:
		return []Party{PartyBeneficiary, PartyConsultant, PartyOrganization}
	case DocumentKindSynthesis:
		return []Party{PartyConsultant}
	}
	return nil
}

type DocumentStatus string

const (
	DocumentStatusDraft     DocumentStatus = "DRAFT"
	DocumentStatusValid     DocumentStatus = "VALID"
	DocumentStatusSigned    DocumentStatus = "SIGNED"
	DocumentStatusFinalized DocumentStatus = "FINALIZED"
)

type Party string

const (
	PartyBeneficiary  Party = "BENEFICIARY"
	PartyConsultant   Party = "CONSULTANT"
	PartyOrganization Party = "ORGANIZATION"
)

func (p Party) IsValid() bool {
	return p == PartyBeneficiary || p == PartyConsultant || p == PartyOrganization
}

type SignatureEvent string

const (
	SignatureEventArrival   SignatureEvent = "ARRIVAL"
	SignatureEventDeparture SignatureEvent = "DEPARTURE"
)

func (e SignatureEvent) IsValid() bool {
	return e == SignatureEventArrival || e == SignatureEventDeparture
}

type FinancerType string

const (
	FinancerTypeCPF      FinancerType = "CPF"
	FinancerTypeOPCO     FinancerType = "OPCO"
	FinancerTypeEmployer FinancerType = "EMPLOYER"
	FinancerTypePersonal FinancerType = "PERSONAL"
)

type TestStatus string

const (
	TestStatusPending    TestStatus = "PENDING"
	TestStatusInProgress TestStatus = "IN_PROGRESS"
	TestStatusCompleted  TestStatus = "COMPLETED"
)

type ActivityKind string

const (
	ActivityKindSession    ActivityKind = "SESSION"
	ActivityKindTest       ActivityKind = "TEST"
	ActivityKindDocument   ActivityKind = "DOCUMENT"
	ActivityKindPhase      ActivityKind = "PHASE"
	ActivityKindAutomation ActivityKind = "AUTOMATION"
	ActivityKindFollowUp   ActivityKind = "FOLLOW_UP"
)
