package services

// Minimal ABIs for the calls this service makes.

const erc20ABIJSON = `[
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

const payrollABIJSON = `[
  {"type":"function","name":"USDC","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"USDT","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"owner","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"paused","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"distributePayrollUSDC","stateMutability":"nonpayable",
   "inputs":[
     {"name":"payments","type":"tuple[]","components":[
       {"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}]},
     {"name":"taxAmount","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"distributePayrollUSDT","stateMutability":"nonpayable",
   "inputs":[
     {"name":"payments","type":"tuple[]","components":[
       {"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}]},
     {"name":"taxAmount","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"pause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"unpause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"withdrawTax","stateMutability":"nonpayable",
   "inputs":[{"name":"token","type":"address"}],"outputs":[]}
]`
