// Package network stands in for the browser network stack: a shared, tuned
// http.Client, the Fetcher contract the offline cache controller forwards
// misses to, and helpers that resolve manifest paths and page requests
// against the site origin.
package network
