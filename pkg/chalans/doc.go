// Package chalans manages traffic violation penalties and the vehicle fee
// structure they are priced from.
//
//	pending --issue--> issued
//	pending/issued --dispute--> disputed --resolve--> resolved
//	pending/issued/disputed --mark paid--> paid
//	pending/issued/disputed --cancel--> cancelled
//
// Paid, cancelled and resolved are final; fees can no longer change once a
// chalan reaches one of them. End users only see chalans they created or
// are assigned.
package chalans
