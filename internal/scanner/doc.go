// Package scanner is the reference web scanner behind scan jobs.
//
// A scan has three stages:
//   - Fetcher retrieves the target page and records its cookies and the
//     hosts of the scripts, images, iframes, and linked resources it loads.
//   - Classifier turns those observations into evidence using the tracker
//     lists and the first-party rules.
//   - DeriveIssues groups evidence into curated, user-facing issues with
//     remediation guidance.
package scanner
