// Package imaging runs credit-gated image work.
//
// A Pipeline sits between the HTTP layer and the conversion and
// geotagging backends: it checks the abuse guard, deducts credits from
// the ledger, and only then hands the request to the backend. Costs are
// fixed per operation type in a CostTable.
//
// The pipeline spends credits before running the backend. A backend
// failure after a successful deduction does not refund the credit; a
// retry deducts again.
package imaging
