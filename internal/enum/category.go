package enum

type EmailCategory string

const (
	CategoryNew           EmailCategory = "New"
	CategoryInterested    EmailCategory = "Interested"
	CategoryMeetingBooked EmailCategory = "Meeting Booked"
	CategoryNotInterested EmailCategory = "Not Interested"
	CategoryOutOfOffice   EmailCategory = "Out of Office"
	CategorySpam          EmailCategory = "Spam"
	CategoryUncategorized EmailCategory = "Uncategorized"
)

// ClassifierLabels is the closed label set the classifier may return.
// CategoryNew is the pre-classification sentinel and is never a valid
// classifier output; CategoryUncategorized is the fallback on any failure.
var ClassifierLabels = []EmailCategory{
	CategoryInterested,
	CategoryMeetingBooked,
	CategoryNotInterested,
	CategoryOutOfOffice,
	CategorySpam,
}

func (c EmailCategory) String() string {
	return string(c)
}

// IsDefault reports whether the category is the pre-classification sentinel.
func (c EmailCategory) IsDefault() bool {
	return c == "" || c == CategoryNew
}
