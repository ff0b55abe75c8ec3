package domain

// ReconciliationOutcome — результат обработки одного события шлюза.
type ReconciliationOutcome string

const (
	OutcomeDuplicateIgnored    ReconciliationOutcome = "DUPLICATE_IGNORED"
	OutcomeIgnoredIrrelevant   ReconciliationOutcome = "IGNORED_IRRELEVANT"
	OutcomeAwaitingDomainLink  ReconciliationOutcome = "AWAITING_DOMAIN_LINK"
	OutcomeAlreadyAwaitingLink ReconciliationOutcome = "ALREADY_AWAITING_LINK"
	// Сущность была привязана раньше оплаты, capture завершил связку.
	OutcomeLinked          ReconciliationOutcome = "LINKED"
	OutcomeAlreadyLinked   ReconciliationOutcome = "ALREADY_LINKED"
	OutcomeOrphanedPayment ReconciliationOutcome = "ORPHANED_PAYMENT"
	OutcomeAmountMismatch  ReconciliationOutcome = "AMOUNT_MISMATCH"
)

// LinkOutcome — результат привязки доменной сущности к заказу.
type LinkOutcome string

const (
	LinkOutcomeLinked               LinkOutcome = "LINKED"
	LinkOutcomeAwaitingPaymentStill LinkOutcome = "AWAITING_PAYMENT_STILL"
	LinkOutcomeAlreadyLinked        LinkOutcome = "ALREADY_LINKED"
)
