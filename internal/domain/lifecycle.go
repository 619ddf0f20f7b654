package domain

// Actor identifies who drives a lifecycle transition.
type Actor string

const (
	ActorReviewer Actor = "reviewer"
	ActorSystem   Actor = "system"
)

type edge struct {
	from ApplicationStatus
	to   ApplicationStatus
}

// transitions is the complete lifecycle graph. Anything not listed is illegal.
var transitions = map[edge]Actor{
	{ApplicationSubmitted, ApplicationUnderReview}: ActorReviewer,

	{ApplicationSubmitted, ApplicationApproved}:      ActorReviewer,
	{ApplicationUnderReview, ApplicationApproved}:    ActorReviewer,
	{ApplicationAdditionalInfo, ApplicationApproved}: ActorReviewer,

	{ApplicationSubmitted, ApplicationRejected}:      ActorReviewer,
	{ApplicationUnderReview, ApplicationRejected}:    ActorReviewer,
	{ApplicationAdditionalInfo, ApplicationRejected}: ActorReviewer,

	{ApplicationSubmitted, ApplicationAdditionalInfo}:   ActorReviewer,
	{ApplicationUnderReview, ApplicationAdditionalInfo}: ActorReviewer,

	{ApplicationApproved, ApplicationContracted}: ActorSystem,
}

// CanTransition reports whether actor may move an application from -> to.
func CanTransition(from, to ApplicationStatus, actor Actor) bool {
	a, ok := transitions[edge{from, to}]
	return ok && a == actor
}

// CheckTransition returns *ErrInvalidTransition when the edge is not allowed.
func CheckTransition(from, to ApplicationStatus, actor Actor) error {
	if !CanTransition(from, to, actor) {
		return &ErrInvalidTransition{From: from, To: to}
	}
	return nil
}

// TransitionsFrom lists the statuses actor can reach from s.
func TransitionsFrom(s ApplicationStatus, actor Actor) []ApplicationStatus {
	var out []ApplicationStatus
	for _, to := range AllApplicationStatuses {
		if CanTransition(s, to, actor) {
			out = append(out, to)
		}
	}
	return out
}

// RequiresApplicantComments reports whether moving to s needs
// hq_comments_for_applicant to be filled in.
func RequiresApplicantComments(s ApplicationStatus) bool {
	return s == ApplicationAdditionalInfo
}
