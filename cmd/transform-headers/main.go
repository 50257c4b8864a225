// Command transform-headers runs header transformation policies in front of
// HTTP upstreams and between Kafka topics.
package main

func main() {
	Execute()
}
