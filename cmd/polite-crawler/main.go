// Package main provides the polite-crawler CLI.
//
// It runs single polite fetches through the same robots.txt, domain policy
// and backoff checks the crawl workers use, which makes it handy for
// debugging why a domain is being skipped or throttled.
//
// Usage:
//
//	polite-crawler fetch https://www.example.com/recipes/1
//	polite-crawler resolve https://example.com/r/1
//	polite-crawler robots https://www.example.com/
//	polite-crawler validate -c config.yaml
package main

func main() {
	Execute()
}
