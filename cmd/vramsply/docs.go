package main

// General API documentation for the local status server. Build with
// `-tags swagger` to serve it under /swagger/.
//
// @title           vramsply status API
// @version         1.0
// @description     Local read-only status of the vram.supply provider agent.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
