package model

type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindAudio MediaKind = "audio"
	MediaKindOther MediaKind = "other"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid  PaymentStatus = "unpaid"
	PaymentStatusPartial PaymentStatus = "partial"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// MediaMode selects how a patch's media list is applied.
type MediaMode string

const (
	// MediaModeAppend adds new attachments, skipping duplicate locators.
	MediaModeAppend MediaMode = "append"
	// MediaModeReplace discards the stored media list and installs the
	// patch's list in the same commit. Used by full-resync producers.
	MediaModeReplace MediaMode = "replace"
)
